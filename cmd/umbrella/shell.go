package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"umbrella/pkg/device"
	"umbrella/pkg/fs"
	. "umbrella/pkg/types"
)

const noMountMsg = "ERROR: No file system mounted, try running newfs then mount"

// Env is the mutable state behind a shell session: at most one mounted
// filesystem at a time.
type Env struct {
	config *Config
	fs     *fs.FileSystem
}

func (env *Env) withFS(f func(*fs.FileSystem)) {
	if env.fs == nil {
		fmt.Fprintln(os.Stderr, noMountMsg)
		return
	}
	f(env.fs)
}

func (env *Env) takeFS(f func(*fs.FileSystem)) {
	if env.fs == nil {
		fmt.Fprintln(os.Stderr, noMountMsg)
		return
	}
	taken := env.fs
	env.fs = nil
	f(taken)
}

func runShell(config *Config) error {
	env := &Env{config: config}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print(config.Prompt)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print(config.Prompt)
			continue
		}
		command, args := fields[0], fields[1:]
		if command == "exit" || command == "quit" {
			if env.fs != nil {
				unmount(env)
			}
			return nil
		}
		dispatch(env, command, args)
		fmt.Print(config.Prompt)
	}
	if env.fs != nil {
		unmount(env)
	}
	return scanner.Err()
}

func dispatch(env *Env, command string, args []string) {
	switch command {
	case "newfs":
		newFS(env, args)
	case "mount":
		mount(env, args)
	case "unmount":
		unmount(env)
	case "block_map":
		env.withFS(func(fs *fs.FileSystem) {
			dump, err := fs.BlockMapDump()
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				return
			}
			fmt.Print(dump)
		})
	case "inode_map":
		env.withFS(func(fs *fs.FileSystem) {
			dump, err := fs.INodeMapDump()
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				return
			}
			fmt.Print(dump)
		})
	case "alloc_block":
		env.withFS(func(fs *fs.FileSystem) {
			bn, err := fs.AllocBlock()
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				return
			}
			fmt.Printf("alloc [%d]\n", bn)
		})
	case "free_block":
		freeBlock(env, args)
	case "alloc_inode":
		allocINode(env, args)
	case "free_inode":
		freeINode(env, args)
	case "help":
		fmt.Println("commands: newfs mount unmount block_map inode_map " +
			"alloc_block free_block alloc_inode free_inode exit")
	default:
		fmt.Fprintf(os.Stderr, "ERROR: Unknown command %q, try help\n", command)
	}
}

// newFS: newfs <path> <block-count> [block-size]. The 128 minimums are
// checked here at the boundary so the user sees a specific message; fs.New
// guards them again.
func newFS(env *Env, args []string) {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(os.Stderr, "ERROR: newfs requires <path> <block-count> [block-size]")
		return
	}
	blockCount, err := parseBlockNumber(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return
	}
	blockSize := env.config.BlockSize
	if len(args) == 3 {
		size, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return
		}
		blockSize = Byte(size)
	}
	if blockSize < 128 {
		fmt.Fprintf(
			os.Stderr,
			"ERROR: The block size must be at least 128 you gave: %d\n",
			blockSize,
		)
		return
	}
	if blockCount < 128 {
		fmt.Fprintf(
			os.Stderr,
			"ERROR: The block count must be at least 128 you gave: %d\n",
			blockCount,
		)
		return
	}
	if err := format(args[0], blockCount, blockSize); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Could not initialize file system: %v\n", err)
	}
}

func mount(env *Env, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "ERROR: mount requires <path>")
		return
	}
	if env.fs != nil {
		fmt.Fprintln(os.Stderr, "ERROR: A file system is already mounted, unmount it first")
		return
	}
	path := args[0]
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(
			os.Stderr,
			"ERROR: The device %q does not exist. Try running 'newfs %s 128' first.\n",
			path,
			path,
		)
		return
	}
	dev, err := device.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return
	}
	mounted, err := fs.Read(dev)
	if err != nil {
		dev.Close()
		fmt.Fprintf(os.Stderr, "ERROR: Could not sync filesystem because %v\n", err)
		return
	}
	if !mounted.CleanMount {
		fmt.Fprintln(os.Stderr, "WARNING: The filesystem was not properly unmounted")
	}
	env.fs = mounted.FileSystem
}

func unmount(env *Env) {
	env.takeFS(func(fs *fs.FileSystem) {
		if err := fs.Close(); err != nil {
			fmt.Fprintf(
				os.Stderr,
				"ERROR: File system was not unmounted cleanly because: %v\n",
				err,
			)
		}
	})
}

func freeBlock(env *Env, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "ERROR: free_block requires <block-number>")
		return
	}
	bn, err := parseBlockNumber(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return
	}
	env.withFS(func(fs *fs.FileSystem) {
		if err := fs.FreeBlock(bn); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
	})
}

func allocINode(env *Env, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "ERROR: alloc_inode requires <flags> (of \"fdsr\", or \"-\")")
		return
	}
	flags, err := ParseINodeFlags(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return
	}
	env.withFS(func(fs *fs.FileSystem) {
		ino, ok, err := fs.AllocINode(flags)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "ERROR: No room left on device")
			return
		}
		fmt.Printf("alloc [%d]\n", ino)
	})
}

func freeINode(env *Env, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "ERROR: free_inode requires <inode-number>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return
	}
	env.withFS(func(fs *fs.FileSystem) {
		if err := fs.FreeINode(Ino(n)); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
	})
}
