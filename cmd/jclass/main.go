package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/jclassfile/classfile"
	"github.com/wippyai/jclassfile/hierarchy"
)

type config struct {
	list      bool
	dump      string
	strip     bool
	regen     bool
	target    string
	classpath string
	strict    bool
	out       string
	verbose   bool
}

func main() {
	var (
		cfg         config
		interactive = flag.Bool("i", false, "Interactive method browser")
	)
	flag.BoolVar(&cfg.list, "list", false, "Print the class summary and exit")
	flag.StringVar(&cfg.dump, "dump", "", "Disassemble methods by name or name+descriptor")
	flag.BoolVar(&cfg.strip, "strip", false, "Drop line numbers, local variable tables and SourceFile")
	flag.BoolVar(&cfg.regen, "regen", false, "Regenerate every method body")
	flag.StringVar(&cfg.target, "target", "", "Rewrite the class-file version for a Java release (e.g. 1.8, 17)")
	flag.StringVar(&cfg.classpath, "classpath", "", "Directories holding .class files for hierarchy lookups (colon-separated)")
	flag.BoolVar(&cfg.strict, "strict", false, "Fail when the class hierarchy cannot be resolved")
	flag.StringVar(&cfg.out, "out", "", "Output file, or directory when several inputs are given")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: jclass [-list] [-dump method] <file.class>...")
		fmt.Fprintln(os.Stderr, "       jclass [-strip] [-regen] [-target release] [-classpath dirs] -out <path> <file.class>...")
		fmt.Fprintln(os.Stderr, "       jclass -i <file.class>  (interactive mode)")
		os.Exit(1)
	}

	if cfg.verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			classfile.SetLogger(logger)
			hierarchy.SetLogger(logger)
			defer logger.Sync() //nolint:errcheck
		}
	}

	cc := classfile.New(cfg.options())

	if *interactive {
		if len(files) != 1 {
			fmt.Fprintln(os.Stderr, "Error: interactive mode takes one class file")
			os.Exit(1)
		}
		if err := runInteractive(cc, files[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), cc, cfg, files, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (cfg config) options() classfile.Options {
	opts := classfile.DefaultOptions()
	opts.StrictHierarchy = cfg.strict
	if cfg.strip {
		opts.LineNumbers = classfile.DebugDrop
		opts.DebugElements = classfile.DebugDrop
	}
	if cfg.classpath != "" {
		opts.Resolver = classpathResolver(classfile.New(opts), filepath.SplitList(cfg.classpath))
	}
	return opts
}

func stdoutPalette() palette {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return colorPalette()
	}
	return plainPalette()
}

func run(ctx context.Context, cc *classfile.Context, cfg config, files []string, w io.Writer) error {
	inputs := make([][]byte, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		inputs[i] = data
	}

	models, err := cc.ParseAll(ctx, inputs, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	p := stdoutPalette()
	if w != os.Stdout {
		p = plainPalette()
	}

	transform, rewrite, err := cfg.transform()
	if err != nil {
		return err
	}

	for i, m := range models {
		if cfg.dump != "" {
			methods := findMethods(m, cfg.dump)
			if len(methods) == 0 {
				return fmt.Errorf("%s: no method %q", files[i], cfg.dump)
			}
			for _, mm := range methods {
				if err := renderCode(w, mm, p); err != nil {
					return fmt.Errorf("%s: %w", files[i], err)
				}
			}
			continue
		}

		if !rewrite || cfg.list {
			if err := renderClass(w, m, p); err != nil {
				return fmt.Errorf("%s: %w", files[i], err)
			}
			continue
		}

		out, err := cc.Transform(m, transform)
		if err != nil {
			return fmt.Errorf("%s: %w", files[i], err)
		}
		dest, err := outputPath(cfg.out, files[i], len(files))
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, out, 0o644); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		classfile.Logger().Info("wrote class",
			zap.String("class", m.ThisClass().InternalName()),
			zap.String("path", dest),
			zap.Int("bytes", len(out)))
		fmt.Fprintf(w, "%s -> %s (%d bytes)\n", files[i], dest, len(out))
	}
	return nil
}

// transform assembles the class transform selected by the flags. ok is false
// when no rewrite was requested.
func (cfg config) transform() (t classfile.ClassTransform, ok bool, err error) {
	var set bool
	add := func(next classfile.ClassTransform) {
		if !set {
			t, set = next, true
			return
		}
		t = t.AndThen(next)
	}

	if cfg.target != "" {
		v, err := classfile.VersionForRelease(cfg.target)
		if err != nil {
			return t, false, err
		}
		add(classfile.NewTransform(func(b *classfile.ClassBuilder, e classfile.ClassElement) {
			if _, ok := e.(classfile.Version); ok {
				b.With(v)
				return
			}
			b.With(e)
		}))
	}
	if cfg.strip {
		add(classfile.Dropping[classfile.ClassElement, *classfile.ClassBuilder](func(e classfile.ClassElement) bool {
			_, ok := e.(classfile.SourceFileAttribute)
			return ok
		}))
	}
	if cfg.strip || cfg.regen || cfg.target != "" {
		add(classfile.TransformingMethodBodies(classfile.AcceptAllCode()))
	}
	if !set {
		return t, false, nil
	}
	if cfg.out == "" && !cfg.list && cfg.dump == "" {
		return t, false, errors.New("-out is required when rewriting classes")
	}
	return t, true, nil
}

func outputPath(out, input string, inputs int) (string, error) {
	if inputs == 1 {
		if st, err := os.Stat(out); err != nil || !st.IsDir() {
			return out, nil
		}
	} else if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(out, filepath.Base(input)), nil
}

// classpathResolver answers hierarchy lookups by parsing name.class under each
// directory, first match wins.
func classpathResolver(cc *classfile.Context, dirs []string) hierarchy.Resolver {
	return hierarchy.Cached(func(name string) (hierarchy.ClassInfo, bool) {
		for _, dir := range dirs {
			path := filepath.Join(dir, filepath.FromSlash(name)+".class")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			m, err := cc.Parse(data)
			if err != nil {
				hierarchy.Logger().Warn("unreadable class on classpath",
					zap.String("path", path), zap.Error(err))
				continue
			}
			info := hierarchy.ClassInfo{IsInterface: m.IsInterface()}
			if m.Superclass() != nil && name != hierarchy.ObjectName {
				info.Superclass = m.Superclass().InternalName()
			}
			return info, true
		}
		return hierarchy.ClassInfo{}, false
	})
}
