package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/textio"
	"golang.org/x/text/encoding"
)

// Dictionary is a parsed dictionary file.
type Dictionary struct {
	Path     string
	FileCode dictionary.FileCode
	Encoding string
	Model    *dictionary.SchemaModel
}

// ReadDictionary parses a dictionary file. The survey id and file code come
// from the file name.
func ReadDictionary(path string, fallback encoding.Encoding) (*Dictionary, error) {
	fc, err := dictionary.ParseFileCode(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileName, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, err := textio.NewReader(f, fallback)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}

	model, err := dictionary.Parse(r, dictionary.Options{SurveyID: fc.SurveyID, FileCode: fc.Code})
	if err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", filepath.Base(path), err)
	}
	return &Dictionary{Path: path, FileCode: fc, Encoding: r.Encoding, Model: model}, nil
}

// Decoding describes how a data file was read.
type Decoding struct {
	Encoding string
	Bytes    int64
	// Replaced counts invalid UTF-8 bytes rewritten as '?'. Each one is a
	// lost character in some value, though no column moved.
	Replaced int64
}

// SplitFile dispatches one data file into rowsets.
func SplitFile(ctx context.Context, model *dictionary.SchemaModel, path string, fallback encoding.Encoding, issueLimit int) (*fixedwidth.Result, Decoding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Decoding{}, fmt.Errorf("open data file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, err := textio.NewReader(f, fallback)
	if err != nil {
		return nil, Decoding{}, fmt.Errorf("read data file %s: %w", path, err)
	}

	res, err := fixedwidth.NewDispatcher(model, fixedwidth.WithIssueLimit(issueLimit)).Dispatch(ctx, r)
	dec := Decoding{Encoding: r.Encoding, Bytes: r.BytesRead(), Replaced: r.Replaced()}
	if err != nil {
		return nil, dec, fmt.Errorf("split %s: %w", filepath.Base(path), err)
	}
	return res, dec, nil
}

// DiscoverJobs pairs every .DCF file in dir with the .DAT files that share
// its "<survey>.<code>" prefix. Extensions match case-insensitively.
func DiscoverJobs(dir string) ([]Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	dicts := make(map[string]string)
	data := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".dcf" && ext != ".dat" {
			continue
		}
		fc, err := dictionary.ParseFileCode(name)
		if err != nil {
			continue
		}
		key := strings.ToUpper(fc.String())
		path := filepath.Join(dir, name)
		if ext == ".dcf" {
			dicts[key] = path
		} else {
			data[key] = append(data[key], path)
		}
	}

	keys := make([]string, 0, len(dicts))
	for k := range dicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	jobs := make([]Job, 0, len(keys))
	for _, k := range keys {
		sort.Strings(data[k])
		jobs = append(jobs, Job{Dictionary: dicts[k], Data: data[k]})
	}
	return jobs, nil
}
