package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-exfat/exfatcore/exfat"
	"github.com/go-exfat/exfatcore/exfatio"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Usage: "Inspect exFAT volume images",
		Commands: []*cli.Command{
			{
				Name:      "stat",
				Usage:     "Print free cluster count and volume label",
				Action:    statImage,
				ArgsUsage: "IMAGE_FILE",
			},
			{
				Name:      "ls",
				Usage:     "List the root directory",
				Action:    lsImage,
				ArgsUsage: "IMAGE_FILE",
			},
			{
				Name:      "label",
				Usage:     "Print or set the volume label",
				Action:    labelImage,
				ArgsUsage: "IMAGE_FILE [NEW_LABEL]",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openImage(path string) (*exfat.Mount, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	var dev exfatio.Device = f
	m, err := exfat.Mount(dev, exfat.MountOptions{})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return m, f, nil
}

func statImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected exactly one image path", 1)
	}
	m, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	defer m.Unmount()

	fmt.Printf("free clusters: %d\n", m.CountFreeClusters())
	fmt.Printf("volume label: %q\n", m.GetLabel())
	return nil
}

func lsImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected exactly one image path", 1)
	}
	m, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	defer m.Unmount()

	root := m.Root()
	if err := m.CacheDirectory(root); err != nil {
		return err
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		kind := "file"
		if child.IsDirectory() {
			kind = "dir"
		}
		fmt.Printf("%-6s %10d  %s\n", kind, child.Size, child.NameString())
	}
	return nil
}

func labelImage(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("expected an image path", 1)
	}
	m, f, err := openImage(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	defer m.Unmount()

	if c.Args().Len() == 1 {
		fmt.Println(m.GetLabel())
		return nil
	}
	m.SetLabel(c.Args().Get(1))
	return nil
}
