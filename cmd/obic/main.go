// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command obic enumerates maximal order-preserving biclusters in a gene
// expression matrix.
//
//	obic build --store /data/gem1 matrix.txt
//	obic stats --store /data/gem1
//	obic query --store /data/gem1 --width 4 --row 0
//
// The input matrix is a whitespace-separated text file, one gene per line,
// one expression value per condition. Pipeline parameters can come from a
// YAML config file (--config) or flags; flags win.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/lukeimhoff/obic/gem"
	"github.com/lukeimhoff/obic/gemstore"
	"github.com/lukeimhoff/obic/progress"
	"github.com/lukeimhoff/obic/rank"
)

// config is the YAML pipeline-parameter surface. JSON tags because
// sigs.k8s.io/yaml routes YAML through the JSON machinery.
type config struct {
	MinGenes int  `json:"minGenes"`
	Doubling bool `json:"doubling"`
	Quiet    bool `json:"quiet"`
}

var (
	storePath  string
	configPath string
	cfg        = config{MinGenes: 2}
)

func addStoreFlag(f *pflag.FlagSet) {
	f.StringVar(&storePath, "store", "", "directory holding the persistent GEM store (required)")
}

func loadConfig(cmd *cobra.Command) error {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return errors.Wrap(err, configPath)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return errors.Wrap(err, configPath)
		}
	}
	// Flags set explicitly override the config file.
	if f := cmd.Flags().Lookup("min-genes"); f != nil && f.Changed {
		cfg.MinGenes, _ = strconv.Atoi(f.Value.String())
	}
	if f := cmd.Flags().Lookup("doubling"); f != nil && f.Changed {
		cfg.Doubling = f.Value.String() == "true"
	}
	if f := cmd.Flags().Lookup("quiet"); f != nil && f.Changed {
		cfg.Quiet = f.Value.String() == "true"
	}
	return nil
}

func hook() progress.Hook {
	if cfg.Quiet {
		return progress.Noop{}
	}
	return &progress.Bar{Writer: os.Stderr}
}

func readMatrix(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer f.Close() // nolint: errcheck
	var raw [][]float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: row %d, column %d", path, len(raw), i)
			}
			row[i] = v
		}
		if len(raw) > 0 && len(row) != len(raw[0]) {
			return nil, errors.Errorf("%s: row %d has %d columns, want %d", path, len(raw), len(row), len(raw[0]))
		}
		raw = append(raw, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return raw, nil
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build matrix.txt",
		Short: "Ingest a raw matrix, rank-code it, and run the full pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			raw, err := readMatrix(args[0])
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				return errors.Errorf("%s: empty matrix", args[0])
			}
			coded, _, err := rank.Code(raw)
			if err != nil {
				return err
			}
			store := gemstore.NewFileStore(storePath)
			if err := store.WriteRaw(ctx, raw); err != nil {
				return err
			}
			d, err := gem.NewDriver(ctx, store, gem.Header{
				MaxConditions: len(raw[0]),
				MaxGenes:      len(raw),
				MinGenes:      cfg.MinGenes,
				Doubling:      cfg.Doubling,
			}, hook())
			if err != nil {
				return err
			}
			log.Printf("gem %v: %d genes x %d conditions, minGenes=%d",
				d.Header.ID, len(raw), len(raw[0]), cfg.MinGenes)
			if err := d.Seed(ctx, coded); err != nil {
				return err
			}
			if err := d.Run(ctx); err != nil {
				return err
			}
			report, err := d.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Print(report)
			log.Debug.Printf("%s", d.Counters.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.MinGenes, "min-genes", cfg.MinGenes, "minimum genes per bicluster")
	cmd.Flags().BoolVar(&cfg.Doubling, "doubling", false, "enable doubling-mode chaining for widths >= 3")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the per-width total / non-nested bicluster report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			d, err := gem.OpenDriver(ctx, gemstore.NewFileStore(storePath), hook())
			if err != nil {
				return err
			}
			report, err := d.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Print(report)
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var width, row int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up one bicluster by width and row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			d, err := gem.OpenDriver(ctx, gemstore.NewFileStore(storePath), progress.Noop{})
			if err != nil {
				return err
			}
			c, g, flag, err := d.Query(ctx, width, row)
			if err != nil {
				return err
			}
			fmt.Printf("conditions: %v\ngenes: %v\nnested: %s\n", c.Order, g.Members(), flag)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 2, "bicluster width (condition count)")
	cmd.Flags().IntVar(&row, "row", 0, "row index within the width group")
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "obic",
		Short:         "Order-preserving bicluster enumeration over gene expression matrices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				return errors.New("--store is required")
			}
			return nil
		},
	}
	addStoreFlag(root.PersistentFlags())
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML pipeline config file")
	root.PersistentFlags().BoolVar(&cfg.Quiet, "quiet", false, "suppress progress output")
	root.AddCommand(newBuildCmd(), newStatsCmd(), newQueryCmd())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
