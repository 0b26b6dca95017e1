package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/muajs/mua-benchmarking/internal/dataset"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Prepare a label-directory dataset",
	Long:  `Write a dataset in the layout the benchmark commands read: one subdirectory per class label holding one image file per item`,
}

var syntheticCmd = &cobra.Command{
	Use:   "synthetic",
	Short: "Write a synthetic dataset of 28x28 grayscale PNGs",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "dataset-synthetic"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if err := writeSynthetic(cfg); err != nil {
			fatal(err)
		}
		infof("wrote %d images to %s", cfg.Classes*cfg.PerClass, cfg.Dataset)
	},
}

var mnistCmd = &cobra.Command{
	Use:   "mnist",
	Short: "Download MNIST and export it as PNG files",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "dataset-mnist"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		n, err := exportMNIST(ctx, cfg, newHTTPClient())
		if err != nil {
			fatal(err)
		}
		infof("wrote %d images to %s", n, cfg.Dataset)
	},
}

func initDataset() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(syntheticCmd, mnistCmd)

	datasetCmd.PersistentFlags().StringVarP(&globalConfig.Dataset,
		"dataset", "d", "./MNIST", "Output dataset root")

	syntheticCmd.Flags().IntVar(&globalConfig.Classes,
		"classes", numClasses, "Number of class labels, named 0..classes-1")
	syntheticCmd.Flags().IntVar(&globalConfig.PerClass,
		"per-class", 10, "Number of images per class")
	syntheticCmd.Flags().StringVar(&globalConfig.Fill,
		"fill", "zero", "Pixel values, one of [zero, random]")
	syntheticCmd.Flags().Int64Var(&globalConfig.Seed,
		"seed", 0, "Seed for random pixels, 0 seeds from the clock")

	mnistCmd.Flags().StringVar(&globalConfig.MirrorURL,
		"mirror", "https://storage.googleapis.com/cvdf-datasets/mnist/", "Base URL of the MNIST archives")
	mnistCmd.Flags().StringVar(&globalConfig.Split,
		"split", "train", "Which split to export, one of [train, test]")
	mnistCmd.Flags().IntVar(&globalConfig.Limit,
		"limit", 0, "Export at most this many images, 0 exports all")
	mnistCmd.Flags().StringVar(&globalConfig.CacheDir,
		"cache-dir", filepath.Join(os.TempDir(), "mnist"), "Directory the downloaded archives are kept in")
}

func writeSynthetic(cfg Config) error {
	fill := dataset.ZeroFill
	if cfg.Fill == "random" {
		fill = dataset.RandomFill(dataset.NewRand(cfg.Seed))
	}
	return dataset.WriteSynthetic(cfg.Dataset, cfg.Classes, cfg.PerClass, imageSide, imageSide, fill)
}

type archive struct {
	name   string
	sha256 string
}

// mnistSplits lists the gzip archives of each split with their checksums.
var mnistSplits = map[string][2]archive{
	"train": {
		{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"},
		{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"},
	},
	"test": {
		{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"},
		{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"},
	},
}

func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = log.StandardLogger()
	return client
}

func exportMNIST(ctx context.Context, cfg Config, client *retryablehttp.Client) (int, error) {
	files, ok := mnistSplits[cfg.Split]
	if !ok {
		return 0, errors.Errorf("unknown split %q", cfg.Split)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return 0, errors.Wrap(err, "create cache directory")
	}

	var paths [2]string
	for i, f := range files {
		paths[i] = filepath.Join(cfg.CacheDir, f.name)
		url := strings.TrimSuffix(cfg.MirrorURL, "/") + "/" + f.name
		if err := downloadVerified(ctx, client, url, paths[i], f.sha256); err != nil {
			return 0, err
		}
	}

	images, err := readIDX(paths[0], dataset.ReadIDXImages)
	if err != nil {
		return 0, err
	}
	labels, err := readIDX(paths[1], dataset.ReadIDXLabels)
	if err != nil {
		return 0, err
	}

	return dataset.ExportIDX(cfg.Dataset, images, labels, cfg.Limit)
}

func readIDX[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	r, err := dataset.OpenIDX(path)
	if err != nil {
		return zero, err
	}
	defer r.Close()

	v, err := read(r)
	if err != nil {
		return zero, errors.Wrapf(err, "read %s", filepath.Base(path))
	}
	return v, nil
}

// downloadVerified fetches url into dest unless dest already holds a file
// with the expected sha256 sum.
func downloadVerified(ctx context.Context, client *retryablehttp.Client, url, dest, sum string) error {
	if got, err := fileSHA256(dest); err == nil && got == sum {
		log.WithField("file", dest).Debug("Using cached archive")
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download %s: HTTP request failed with status code %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != sum {
		return errors.Errorf("checksum mismatch for %s: got %s, want %s", url, got, sum)
	}

	log.WithFields(log.Fields{"url": url, "file": dest}).Info("Downloaded archive")
	return os.Rename(tmp.Name(), dest)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
