package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/elastic/search-workshop/importer/internal/config"
	"github.com/elastic/search-workshop/importer/internal/objstore"
)

type options struct {
	Config            string
	Mapping           string
	DataDir           string
	File              string
	All               bool
	Glob              string
	GlobFiles         []string
	Index             string
	BatchSize         int
	Refresh           bool
	Status            bool
	DeleteIndex       bool
	DeleteAll         bool
	Sample            bool
	AirportsFile      string
	CancellationsFile string
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
}

func defaultOptions() *options {
	return &options{
		Config:            "config/elasticsearch.yml",
		Mapping:           "config/mappings-flights.json",
		DataDir:           "data",
		Index:             "flights",
		BatchSize:         500,
		AirportsFile:      "data/airports.csv.gz",
		CancellationsFile: "data/cancellations.csv",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// finalize folds shell-expanded glob arguments into GlobFiles and enforces
// the mutual exclusion rules between modes and file selectors.
func (o *options) finalize(args []string) error {
	if o.Glob != "" && len(args) > 0 && !strings.ContainsAny(o.Glob, "*?") {
		o.GlobFiles = append([]string{o.Glob}, args...)
		o.Glob = ""
	}

	if o.Status && (o.DeleteIndex || o.DeleteAll) {
		return errors.New("cannot use --status with --delete-index or --delete-all")
	}
	if o.DeleteIndex && o.DeleteAll {
		return errors.New("cannot use --delete-index and --delete-all together")
	}

	if !o.Status && !o.DeleteIndex && !o.DeleteAll && !o.Sample {
		selected := 0
		if o.File != "" {
			selected++
		}
		if o.All {
			selected++
		}
		if o.Glob != "" {
			selected++
		}
		if len(o.GlobFiles) > 0 {
			selected++
		}
		if selected > 1 {
			return errors.New("cannot use --file, --all, and --glob together (use only one)")
		}
	}
	return nil
}

type fetchFunc func(ctx context.Context, url string) ([]string, error)

// filesToProcess turns the selectors into an ordered list of local paths.
// s3:// inputs are downloaded through fetch first.
func filesToProcess(ctx context.Context, o *options, fetch fetchFunc) ([]string, error) {
	dataDir := config.ResolvePath(o.DataDir)

	if o.File != "" {
		if objstore.IsRemote(o.File) {
			return fetch(ctx, o.File)
		}
		return []string{config.ResolveFilePath(o.File, dataDir)}, nil
	}

	if len(o.GlobFiles) > 0 {
		var files []string
		for _, f := range o.GlobFiles {
			if objstore.IsRemote(f) {
				fetched, err := fetch(ctx, f)
				if err != nil {
					return nil, err
				}
				files = append(files, fetched...)
				continue
			}
			files = append(files, config.ResolveFilePath(f, dataDir))
		}
		return files, nil
	}

	if o.Glob != "" {
		var files []string
		var err error
		if objstore.IsRemote(o.Glob) {
			files, err = fetch(ctx, o.Glob)
		} else {
			files, err = globFiles(o.Glob)
			if err == nil && len(files) == 0 && !filepath.IsAbs(o.Glob) {
				files, err = globFiles(filepath.Join(dataDir, o.Glob))
			}
		}
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no files found matching pattern: %s", o.Glob)
		}
		return files, nil
	}

	var files []string
	for _, ext := range []string{"*.zip", "*.csv", "*.csv.gz"} {
		matches, err := globFiles(filepath.Join(dataDir, ext))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .zip, .csv, or .csv.gz files found in %s", dataDir)
	}
	return files, nil
}

// globFiles returns regular files matching pattern.
func globFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	return files, nil
}
