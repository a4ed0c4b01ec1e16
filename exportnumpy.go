// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy dumps a persisted matrix artifact (phenotype matrix or
// left inverse) as a numpy array for offline inspection.
type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input parquet `artifact`")
	outputFilename := flags.String("o", "-", "output `file`")
	columnsOut := flags.String("output-columns", "", "also write column names to `file`, one per line")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *inputFilename == "" {
		err = fmt.Errorf("-i is required")
		return 2
	}

	cols, m, err := readMatrixParquet(*inputFilename)
	if err != nil {
		return 1
	}
	rows, ncols := m.Dims()
	log.Printf("read %d rows, %d cols", rows, ncols)

	if *columnsOut != "" {
		err = os.WriteFile(*columnsOut, []byte(strings.Join(cols, "\n")+"\n"), 0666)
		if err != nil {
			return 1
		}
	}

	out := make([]float64, rows*ncols)
	for i := 0; i < rows; i++ {
		for j := 0; j < ncols; j++ {
			out[i*ncols+j] = m.At(i, j)
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, ncols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
