package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dargueta/pagecache"
	"github.com/dargueta/pagecache/blockcache"
	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Usage: "Copy files through a user-space block cache",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "capacity",
				Usage: "number of cache slots",
				Value: 64,
			},
			&cli.UintFlag{
				Name:  "block-size",
				Usage: "bytes per cache block; must match the file system's direct-I/O alignment",
				Value: pagecache.DefaultBlockSize,
			},
			&cli.BoolFlag{
				Name:  "buffered",
				Usage: "skip O_DIRECT, for file systems that reject it",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "print cache counters as CSV on completion",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "cp",
				Usage:     "Copy a file through the cache",
				Action:    copyFile,
				ArgsUsage: "SOURCE  DEST",
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func copyFile(context *cli.Context) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected exactly 2 arguments, got %d", context.Args().Len())
	}

	cache, err := newCache(context)
	if err != nil {
		return err
	}

	source, err := cache.Open(context.Args().Get(0))
	if err != nil {
		return err
	}
	dest, err := cache.Open(context.Args().Get(1))
	if err != nil {
		return err
	}

	buffer := make([]byte, cache.BlockSize())
	for {
		bytesRead, readErr := cache.Read(source, buffer)
		if bytesRead > 0 {
			_, writeErr := cache.Write(dest, buffer[:bytesRead])
			if writeErr != nil {
				return writeErr
			}
		}
		if readErr == io.EOF {
			break
		} else if readErr != nil {
			return readErr
		}
	}

	err = cache.Sync(dest)
	if err != nil {
		return err
	}
	err = cache.Shutdown()
	if err != nil {
		return err
	}

	if context.Bool("stats") {
		return printStats(cache)
	}
	return nil
}

func newCache(context *cli.Context) (*pagecache.Cache, error) {
	capacity := context.Uint("capacity")
	blockSize := context.Uint("block-size")

	if context.Bool("buffered") {
		return pagecache.NewBuffered(capacity, blockSize)
	}
	return pagecache.New(capacity, blockSize)
}

func printStats(cache *pagecache.Cache) error {
	stats := cache.Stats()
	rows := []*blockcache.Stats{&stats}

	csv, err := gocsv.MarshalString(&rows)
	if err != nil {
		return err
	}

	_, err = fmt.Print(csv)
	return err
}
