package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wzb1005/ivf-hnsw/internal/config"
	"github.com/wzb1005/ivf-hnsw/internal/obs"
	"github.com/wzb1005/ivf-hnsw/internal/vecio"
	"github.com/wzb1005/ivf-hnsw/ivfhnsw"
)

var (
	configPath string
	k          int
	nprobe     int
	maxCodes   int
)

var rootCmd = &cobra.Command{
	Use:   "ivfhnsw",
	Short: "IVF-HNSW approximate nearest neighbor index",
	Long:  `Build, query, and benchmark an IVF-ADC index with an HNSW coarse quantizer.`,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the index from the dataset named in the config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx := context.Background()
		logger := slog.Default()

		idx, err := newIndex(cfg)
		if err != nil {
			return err
		}

		start := time.Now()
		logger.Info("building coarse quantizer", "centroids", cfg.Index.NCentroids)
		if err := idx.BuildCoarseQuantizer(ctx, cfg.Dataset.Centroids, cfg.Paths.Info, cfg.Paths.Edges,
			cfg.Index.M, cfg.Index.EfConstruction); err != nil {
			return err
		}
		if err := idx.ComputeCentroidNorms(); err != nil {
			return err
		}
		logger.Info("coarse quantizer ready", "elapsed", time.Since(start))

		learn, err := vecio.ReadFvecs(cfg.Dataset.Learn, cfg.Dataset.Dim)
		if err != nil {
			return err
		}
		logger.Info("training product quantizers", "vectors", len(learn))
		if err := idx.TrainPQ(ctx, learn); err != nil {
			return err
		}
		if cfg.Paths.PQ != "" {
			if err := idx.SaveQuantizers(cfg.Paths.PQ, cfg.Paths.NormPQ); err != nil {
				return err
			}
		}

		logger.Info("adding base vectors")
		if err := addBase(ctx, idx, cfg, logger); err != nil {
			return err
		}

		if err := idx.Write(cfg.Paths.Index); err != nil {
			return err
		}
		logger.Info("index written", "path", cfg.Paths.Index, "vectors", idx.Len(), "elapsed", time.Since(start))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Load the index and print the nearest neighbors of each query",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx := context.Background()

		idx, err := loadIndex(ctx, cfg)
		if err != nil {
			return err
		}
		applyOverrides(idx)

		queries, err := vecio.ReadFvecs(cfg.Dataset.Query, cfg.Dataset.Dim)
		if err != nil {
			return err
		}

		for i, q := range queries {
			dists, labels, err := idx.Search(ctx, q, k)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			fmt.Printf("query %d:", i)
			for j := range labels {
				fmt.Printf(" %d(%.4f)", labels[j], dists[j])
			}
			fmt.Println()
		}
		return nil
	},
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure recall and latency against the groundtruth",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx := context.Background()
		logger := slog.Default()

		idx, err := loadIndex(ctx, cfg)
		if err != nil {
			return err
		}
		applyOverrides(idx)

		queries, err := vecio.ReadFvecs(cfg.Dataset.Query, cfg.Dataset.Dim)
		if err != nil {
			return err
		}
		gt, err := vecio.ReadIvecs(cfg.Dataset.Groundtruth, cfg.Dataset.GtDim)
		if err != nil {
			return err
		}
		if len(gt) < len(queries) {
			return fmt.Errorf("groundtruth has %d records for %d queries", len(gt), len(queries))
		}

		hits := 0
		start := time.Now()
		for i, q := range queries {
			_, labels, err := idx.Search(ctx, q, k)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			// Recall@k counts queries whose true nearest neighbor appears
			// among the k answers.
			for _, label := range labels {
				if label == int64(gt[i][0]) {
					hits++
					break
				}
			}
		}
		elapsed := time.Since(start)

		logger.Info("bench complete",
			"queries", len(queries),
			"k", k,
			"recall", float64(hits)/float64(len(queries)),
			"us_per_query", float64(elapsed.Microseconds())/float64(len(queries)))
		return nil
	},
}

func newIndex(cfg *config.Config) (*ivfhnsw.Index, error) {
	icfg := ivfhnsw.DefaultConfig(cfg.Dataset.Dim, cfg.Index.NCentroids, cfg.Index.CodeBytes)
	icfg.NProbe = cfg.Index.NProbe
	icfg.MaxCodes = cfg.Index.MaxCodes
	icfg.Metrics = obs.NewMetrics()
	return ivfhnsw.New(icfg)
}

func loadIndex(ctx context.Context, cfg *config.Config) (*ivfhnsw.Index, error) {
	idx, err := newIndex(cfg)
	if err != nil {
		return nil, err
	}
	if err := idx.BuildCoarseQuantizer(ctx, cfg.Dataset.Centroids, cfg.Paths.Info, cfg.Paths.Edges,
		cfg.Index.M, cfg.Index.EfConstruction); err != nil {
		return nil, err
	}
	if err := idx.LoadQuantizers(cfg.Paths.PQ, cfg.Paths.NormPQ); err != nil {
		return nil, err
	}
	if err := idx.Read(cfg.Paths.Index); err != nil {
		return nil, err
	}
	idx.SetEfSearch(cfg.Index.EfSearch)
	return idx, nil
}

func applyOverrides(idx *ivfhnsw.Index) {
	if nprobe > 0 {
		idx.SetNProbe(nprobe)
	}
	if maxCodes > 0 {
		idx.SetMaxCodes(maxCodes)
	}
}

// addBase streams base vectors in batches: assign in parallel, then
// append to the posting lists.
func addBase(ctx context.Context, idx *ivfhnsw.Index, cfg *config.Config, logger *slog.Logger) error {
	scanner, err := vecio.OpenFvecs(cfg.Dataset.Base, cfg.Dataset.Dim)
	if err != nil {
		return err
	}
	defer scanner.Close()

	const batchSize = 100000
	batch := make([][]float32, 0, batchSize)
	labels := make([]uint32, 0, batchSize)
	next := uint32(0)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		assignments := make([]uint32, len(batch))
		if err := idx.Assign(ctx, batch, assignments); err != nil {
			return err
		}
		if err := idx.AddBatch(ctx, batch, labels, assignments); err != nil {
			return err
		}
		total += len(batch)
		logger.Info("added batch", "total", total)
		batch = batch[:0]
		labels = labels[:0]
		return nil
	}

	for scanner.Scan() {
		batch = append(batch, append([]float32(nil), scanner.Vector()...))
		labels = append(labels, next)
		next++
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ivfhnsw.yaml", "run configuration file")
	searchCmd.Flags().IntVarP(&k, "k", "k", 10, "neighbors per query")
	benchCmd.Flags().IntVarP(&k, "k", "k", 10, "neighbors per query")
	searchCmd.Flags().IntVar(&nprobe, "nprobe", 0, "override nprobe")
	benchCmd.Flags().IntVar(&nprobe, "nprobe", 0, "override nprobe")
	searchCmd.Flags().IntVar(&maxCodes, "max-codes", 0, "override max codes")
	benchCmd.Flags().IntVar(&maxCodes, "max-codes", 0, "override max codes")

	rootCmd.AddCommand(buildCmd, searchCmd, benchCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
