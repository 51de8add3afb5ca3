// Command f2fcli creates, inspects and edits f2f filesystem images from the
// shell, following the subcommand-dispatch style of the teacher's cmd/sqfs.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/KarpelesLab/f2f"
	"github.com/ulikunitz/xz"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "format":
		err = cmdFormat(os.Args[2:])
	case "ls":
		err = cmdLs(os.Args[2:])
	case "mkdir":
		err = cmdMkdir(os.Args[2:])
	case "put":
		err = cmdPut(os.Args[2:])
	case "get":
		err = cmdGet(os.Args[2:])
	case "rm":
		err = cmdRm(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "f2fcli: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: f2fcli <command> [args]

commands:
  format  -image FILE
  ls      -image FILE [-path PATH]
  mkdir   -image FILE -path PATH
  put     -image FILE -path PATH SRC
  get     -image FILE -path PATH [-xz] [DST]
  rm      -image FILE -path PATH
  check   -image FILE`)
}

func openImage(imagePath string) (*f2f.FileStorage, *f2f.Filesystem, error) {
	st, err := f2f.OpenFileStorage(imagePath)
	if err != nil {
		return nil, nil, err
	}
	fsys, err := f2f.Open(st)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, fsys, nil
}

func cmdFormat(args []string) error {
	fset := flag.NewFlagSet("format", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file to create")
	fset.Parse(args)
	if *image == "" {
		return fmt.Errorf("-image is required")
	}

	st, err := f2f.OpenFileStorage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	fsys, err := f2f.Format(st)
	if err != nil {
		return err
	}
	return fsys.Close()
}

func cmdLs(args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	dir := fset.String("path", "/", "directory to list")
	fset.Parse(args)
	if *image == "" {
		return fmt.Errorf("-image is required")
	}

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	it, err := fsys.ReadDir(normalize(*dir))
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		e, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		tag := "f"
		if e.Type == f2f.TypeDirectory {
			tag = "d"
		}
		fmt.Printf("%s %s\n", tag, e.Name)
	}
	return nil
}

func cmdMkdir(args []string) error {
	fset := flag.NewFlagSet("mkdir", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	target := fset.String("path", "", "directory path to create")
	fset.Parse(args)
	if *image == "" || *target == "" {
		return fmt.Errorf("-image and -path are required")
	}

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := fsys.Mkdir(normalize(*target)); err != nil {
		return err
	}
	return fsys.Close()
}

func cmdPut(args []string) error {
	fset := flag.NewFlagSet("put", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	target := fset.String("path", "", "destination path inside the image")
	fset.Parse(args)
	if *image == "" || *target == "" || fset.NArg() != 1 {
		return fmt.Errorf("usage: put -image FILE -path PATH SRC")
	}
	src := fset.Arg(0)

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	h, err := fsys.Create(normalize(*target))
	if err != nil {
		return err
	}
	if _, err := io.Copy(h, in); err != nil {
		h.Close()
		return err
	}
	if err := h.Close(); err != nil {
		return err
	}
	return fsys.Close()
}

func cmdGet(args []string) error {
	fset := flag.NewFlagSet("get", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	target := fset.String("path", "", "source path inside the image")
	useXz := fset.Bool("xz", false, "compress the extracted stream with xz")
	fset.Parse(args)
	if *image == "" || *target == "" {
		return fmt.Errorf("-image and -path are required")
	}

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	h, err := fsys.Open(normalize(*target), f2f.ReadOnly)
	if err != nil {
		return err
	}
	defer h.Close()

	var out io.Writer = os.Stdout
	if fset.NArg() == 1 {
		f, err := os.Create(fset.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if *useXz {
		w, err := xz.NewWriter(out)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, h); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
	_, err = io.Copy(out, h)
	return err
}

func cmdRm(args []string) error {
	fset := flag.NewFlagSet("rm", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	target := fset.String("path", "", "path inside the image to remove")
	fset.Parse(args)
	if *image == "" || *target == "" {
		return fmt.Errorf("-image and -path are required")
	}

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := fsys.Remove(normalize(*target)); err != nil {
		return err
	}
	return fsys.Close()
}

func cmdCheck(args []string) error {
	fset := flag.NewFlagSet("check", flag.ExitOnError)
	image := fset.String("image", "", "path to the image file")
	fset.Parse(args)
	if *image == "" {
		return fmt.Errorf("-image is required")
	}

	st, fsys, err := openImage(*image)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := fsys.Check(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func normalize(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
