package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/fuse"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
)

func runInit(args []string) error {
	fs, configPath := newFlagSet("init")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	_ = fs.Parse(args)

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	_ = fs.Parse(args)

	outputFile := "config.schema.json"
	if fs.NArg() > 0 {
		outputFile = fs.Arg(0)
	}

	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, schema, 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
	return nil
}

func runMount(args []string) error {
	fs, configPath := newFlagSet("mount")
	mountpoint := fs.String("mountpoint", "", "Override fuse.mountpoint")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	fuseCfg := rt.cfg.FUSE
	if *mountpoint != "" {
		fuseCfg.Mountpoint = *mountpoint
	}
	srv := fuse.New(fuseCfg)
	srv.SetRouter(rt.router)

	if ms := rt.metrics.Server; ms != nil {
		go func() {
			if err := ms.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(ctx)
	}()

	logger.Info("%s front end serving %d mount(s) at %s. Press Ctrl+C to stop.",
		srv.Protocol(), rt.registry.Count(), fuseCfg.Mountpoint)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, unmounting...")
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			logger.Error("FUSE shutdown error: %v", err)
		}
		if err := <-serveDone; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("Stopped gracefully")
		return nil
	case err := <-serveDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func runMounts(args []string) error {
	fs, configPath := newFlagSet("mounts")
	all := fs.Bool("all", false, "Include mounts hidden from listings")
	members := fs.Bool("members", false, "List the members of archive mounts")
	_ = fs.Parse(args)

	ctx := context.Background()
	rt, err := setup(ctx, *configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	filter := registry.VisibleInDump
	if *all {
		filter = nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tPATH\tKIND\tACCESS\tSOURCE")
	for _, e := range rt.registry.Entries(filter) {
		access := "rw"
		if e.Config().ReadOnly {
			access = "ro"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Slot(), e.MountPath(), e.Kind(), access, e.Key())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !*members {
		return nil
	}
	for _, e := range rt.registry.Entries(filter) {
		if err := printMembers(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func printMembers(ctx context.Context, e *registry.Entry) error {
	return e.Do(ctx, func(_ context.Context, b vfs.Backend) error {
		c, ok := b.(vfs.Collection)
		if !ok {
			return nil
		}
		fmt.Printf("\n%s\n", e.MountPath())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, m := range c.Entries() {
			fmt.Fprintf(w, "  %s\t%s\t@%d\n", m.Name, humanize.IBytes(uint64(m.Size)), m.Offset)
		}
		return w.Flush()
	})
}

func runLs(args []string) error {
	fs, configPath := newFlagSet("ls")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dittomount ls [--config path] <name:/path>")
	}
	path := fs.Arg(0)

	ctx := context.Background()
	rt, err := setup(ctx, *configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	dev, errno := rt.router.Device(path)
	if errno != adapter.OK {
		return fmt.Errorf("%s: %w", path, errno)
	}
	dd, errno := dev.DirOpen(ctx, path)
	if errno != adapter.OK {
		return fmt.Errorf("%s: %w", path, errno)
	}
	defer dev.DirClose(ctx, dd)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for {
		name, st, errno := dev.DirNext(ctx, dd)
		if errno == syscall.ENOENT {
			break
		}
		if errno != adapter.OK {
			return fmt.Errorf("%s: %w", path, errno)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Mode, humanize.IBytes(uint64(st.Size)), formatTime(st.Mtime), name)
	}
	return w.Flush()
}

func runStat(args []string) error {
	fs, configPath := newFlagSet("stat")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: dittomount stat [--config path] <name:/path>")
	}
	path := fs.Arg(0)

	ctx := context.Background()
	rt, err := setup(ctx, *configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, errno := rt.router.Lstat(ctx, path)
	if errno != adapter.OK {
		return fmt.Errorf("%s: %w", path, errno)
	}
	fmt.Printf("  Path: %s\n", path)
	fmt.Printf("  Mode: %s\n", st.Mode)
	fmt.Printf("  Size: %d (%s)\n", st.Size, humanize.IBytes(uint64(st.Size)))
	fmt.Printf(" Links: %d\n", st.Nlink)
	fmt.Printf("Access: %s\n", formatTime(st.Atime))
	fmt.Printf("Modify: %s\n", formatTime(st.Mtime))
	fmt.Printf("Change: %s\n", formatTime(st.Ctime))
	return nil
}

func runCat(args []string) error {
	fs, configPath := newFlagSet("cat")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: dittomount cat [--config path] <name:/path>...")
	}

	ctx := context.Background()
	rt, err := setup(ctx, *configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, path := range fs.Args() {
		if err := catFile(ctx, rt.router, path, os.Stdout); err != nil {
			return err
		}
	}
	return nil
}

func catFile(ctx context.Context, router *adapter.Router, path string, out io.Writer) error {
	dev, errno := router.Device(path)
	if errno != adapter.OK {
		return fmt.Errorf("%s: %w", path, errno)
	}
	fd, errno := dev.Open(ctx, path, os.O_RDONLY, 0)
	if errno != adapter.OK {
		return fmt.Errorf("%s: %w", path, errno)
	}
	defer dev.Close(ctx, fd)

	buf := make([]byte, 64<<10)
	for {
		n, errno := dev.Read(ctx, fd, buf)
		if errno != adapter.OK {
			return fmt.Errorf("%s: %w", path, errno)
		}
		if n == 0 {
			return nil
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
