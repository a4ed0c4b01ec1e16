// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz" or ".zst".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(fnm, ".gz"):
		rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
		if err != nil {
			f.Close()
			return nil, err
		}
		return zreader{rdr, f}, nil
	case strings.HasSuffix(fnm, ".zst"):
		dec, err := zstd.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
		if err != nil {
			f.Close()
			return nil, err
		}
		return zreader{dec.IOReadCloser(), f}, nil
	default:
		return f, nil
	}
}

// zcreate returns a writer for the given file, compressing the output
// if fnm ends with ".zst".
func zcreate(fnm string) (io.WriteCloser, error) {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(fnm, ".zst") {
		return f, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return zwriter{enc, f}, nil
}

// zreader wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type zreader struct {
	io.ReadCloser
	io.Closer
}

func (zr zreader) Close() error {
	e1 := zr.ReadCloser.Close()
	e2 := zr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type zwriter struct {
	*zstd.Encoder
	f *os.File
}

func (zw zwriter) Close() error {
	e1 := zw.Encoder.Close()
	e2 := zw.f.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// sepRune converts a field-separator option to a rune, accepting the
// spelled-out forms "\\t" and "tab" so callers don't need to quote a
// literal tab character.
func sepRune(s string) (rune, error) {
	switch s {
	case "\\t", "tab":
		return '\t', nil
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("invalid field separator %q", s)
	}
	return runes[0], nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
