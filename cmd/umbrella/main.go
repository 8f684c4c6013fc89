package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"umbrella/pkg/device"
	"umbrella/pkg/fs"
	. "umbrella/pkg/types"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	app := cli.App{
		Name:        "umbrella",
		Description: "a simulated block file system inside a regular file",
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"newfs"},
			ArgsUsage:   "<path> <block-count> [block-size]",
			Description: "write a fresh file system image",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() < 2 || ctx.NArg() > 3 {
					return fmt.Errorf(
						"format wants <path> <block-count> [block-size]; found %d arguments",
						ctx.NArg(),
					)
				}
				blockCount, err := parseBlockNumber(ctx.Args().Get(1))
				if err != nil {
					return fmt.Errorf("parsing block count: %w", err)
				}
				blockSize := config.BlockSize
				if ctx.NArg() == 3 {
					size, err := strconv.ParseUint(ctx.Args().Get(2), 10, 16)
					if err != nil {
						return fmt.Errorf("parsing block size: %w", err)
					}
					blockSize = Byte(size)
				}
				return format(ctx.Args().Get(0), blockCount, blockSize)
			},
		}, {
			Name:        "info",
			ArgsUsage:   "<path>",
			Description: "mount an image, print its superblock summary, unmount",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return fmt.Errorf(
						"info wants <path>; found %d arguments",
						ctx.NArg(),
					)
				}
				return info(ctx.Args().Get(0))
			},
		}, {
			Name:        "shell",
			Description: "interactive shell over a mounted file system",
			Action: func(ctx *cli.Context) error {
				return runShell(config)
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// format creates the backing device and writes a fresh filesystem, closing
// it immediately so the image starts out clean.
func format(path string, blockCount BlockNumber, blockSize Byte) error {
	dev, err := device.Create(path, blockCount, blockSize)
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}
	filesystem, err := fs.New(dev)
	if err != nil {
		dev.Close()
		return fmt.Errorf("formatting device: %w", err)
	}
	if err := filesystem.Close(); err != nil {
		return fmt.Errorf("closing fresh file system: %w", err)
	}
	return nil
}

func info(path string) error {
	dev, err := device.Open(path)
	if err != nil {
		return err
	}
	mount, err := fs.Read(dev)
	if err != nil {
		dev.Close()
		return err
	}
	if !mount.CleanMount {
		fmt.Fprintln(os.Stderr, "WARNING: The filesystem was not properly unmounted")
	}
	sb, err := mount.FileSystem.Superblock()
	if err != nil {
		return err
	}
	fmt.Printf("id:               %s\n", sb.FSID)
	fmt.Printf("block size:       %d\n", sb.BlockSize)
	fmt.Printf("block count:      %d\n", sb.BlockCount)
	fmt.Printf("inode count:      %d\n", sb.InodeCount)
	fmt.Printf("first data block: %d\n", sb.FirstDataBlock())
	fmt.Printf("clean:            %t\n", mount.CleanMount)
	if err := mount.FileSystem.Close(); err != nil {
		return fmt.Errorf("unmounting: %w", err)
	}
	return nil
}

func parseBlockNumber(s string) (BlockNumber, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return BlockNil, err
	}
	return BlockNumber(n), nil
}
