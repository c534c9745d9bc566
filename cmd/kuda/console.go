package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-shellwords"
)

const prompt = "kuda> "

// errExit ends the console session.
var errExit = errors.New("exit")

type consoleCommand struct {
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// console is the line-based operator console started with -i.
type console struct {
	app      *app
	in       io.Reader
	out      io.Writer
	commands map[string]consoleCommand
}

func newConsole(a *app, in io.Reader, out io.Writer) *console {
	c := &console{app: a, in: in, out: out}
	exit := consoleCommand{usage: "exit", help: "stop the server", run: func(context.Context, []string) error { return errExit }}
	c.commands = map[string]consoleCommand{
		"help":     {usage: "help", help: "list commands", run: c.help},
		"routes":   {usage: "routes", help: "list HTTP routes", run: c.routes},
		"projects": {usage: "projects", help: "list saved projects", run: c.projects},
		"plugins":  {usage: "plugins", help: "list editor plugins", run: c.plugins},
		"models":   {usage: "models", help: "list model assets", run: c.models},
		"publish":  {usage: "publish <name> [models...]", help: "publish a saved project", run: c.publish},
		"exit":     exit,
		".x":       exit,
	}
	return c
}

// Run reads commands until exit, end of input or ctx cancellation.
func (c *console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(c.out, prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.exec(ctx, line); errors.Is(err, errExit) {
				return nil
			} else if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			fmt.Fprint(c.out, prompt)
		}
	}
}

// exec runs a single console line.
func (c *console) exec(ctx context.Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	cmd, ok := c.commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return cmd.run(ctx, args[1:])
}

func (c *console) help(context.Context, []string) error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		if name != ".x" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(tw, "  %s\t%s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(tw, "  .x\tsame as exit\n")
	return tw.Flush()
}

func (c *console) routes(context.Context, []string) error {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, r := range c.app.server.Routes() {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Method, r.Path, r.Name)
	}
	return tw.Flush()
}

func (c *console) projects(ctx context.Context, _ []string) error {
	projects, err := c.app.store.List(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Fprintln(c.out, "no projects")
		return nil
	}
	for _, p := range projects {
		mark := ""
		if p.Published {
			mark = " (published)"
		}
		fmt.Fprintf(c.out, "  %s%s\n", p.Name, mark)
	}
	return nil
}

func (c *console) plugins(ctx context.Context, _ []string) error {
	plugins, err := c.app.catalog.Plugins(ctx)
	if err != nil {
		return err
	}
	for _, p := range plugins {
		fmt.Fprintf(c.out, "  %s\n", p)
	}

	manifest, err := c.app.catalog.Manifest()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "manifest: %s\n", manifest)
	return nil
}

func (c *console) models(ctx context.Context, _ []string) error {
	models, err := c.app.catalog.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintf(c.out, "  %s\t%s\n", m.Name, m.URL)
	}
	return nil
}

func (c *console) publish(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: publish <name> [models...]")
	}
	res, err := c.app.publisher.Publish(ctx, args[0], strings.Join(args[1:], "\n"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "published %s\n", res.PagePath)
	return nil
}
