package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/koustreak/bucketdesk/internal/actions"
	"github.com/koustreak/bucketdesk/internal/desk"
	"github.com/koustreak/bucketdesk/internal/filemeta"
	"github.com/koustreak/bucketdesk/internal/listing"
	"github.com/koustreak/bucketdesk/internal/selection"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// withDesk opens the app, starts a desk and runs fn on it.
func (e *env) withDesk(cmd *cobra.Command, fn func(a *app, d *desk.Desk) error) error {
	a, err := e.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.desk(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(a, d)
}

func lsCmd(e *env) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the files in the bucket",
		Example: `  bucketdesk ls
  bucketdesk ls --search report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withDesk(cmd, func(_ *app, d *desk.Desk) error {
				v := d.View()
				if query != "" {
					var err error
					if v, err = d.Dispatch(cmd.Context(), desk.Search{Query: query}); err != nil {
						return err
					}
				}
				return printListing(cmd.OutOrStdout(), v.Listing)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "show only files whose name contains this text")
	return cmd
}

func printListing(w io.Writer, l listing.Listing) error {
	switch l.State {
	case listing.StateFailed:
		return errors.New(l.Message)
	case listing.StateEmpty:
		fmt.Fprintln(w, l.Message)
		return nil
	}

	cards := l.Visible()
	if len(cards) == 0 {
		fmt.Fprintln(w, listing.EmptyMessage)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tMODIFIED\tKEY")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.SizeLabel, c.Modified, c.Key)
	}
	return tw.Flush()
}

func putCmd(e *env) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "put FILE...",
		Short: "Upload local files",
		Long: `Upload local files under a directory prefix. Without --prefix the
configured default prefix is used. Files with the same name are sent once.`,
		Example: `  bucketdesk put report.pdf notes.txt --prefix documents/2024`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := localFiles(args)
			if err != nil {
				return err
			}
			return e.withDesk(cmd, func(_ *app, d *desk.Desk) error {
				if _, err := d.Dispatch(cmd.Context(), desk.AddFiles{Files: files}); err != nil {
					return err
				}
				v, err := d.Dispatch(cmd.Context(), desk.Upload{Prefix: prefix})
				printNotes(cmd.ErrOrStderr(), v.Notifications)
				if err != nil {
					return err
				}

				sum := v.Result.Upload
				out := cmd.OutOrStdout()
				for _, o := range sum.Outcomes {
					if o.Succeeded {
						fmt.Fprintf(out, "uploaded %s -> %s\n", o.Name, o.Key)
					} else {
						fmt.Fprintf(out, "failed   %s: %v\n", o.Name, o.Err)
					}
				}
				if sum.Failed > 0 {
					return fmt.Errorf("%d of %d uploads failed", sum.Failed, sum.Failed+sum.Succeeded)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "directory prefix for the uploaded keys")
	return cmd
}

func localFiles(paths []string) ([]selection.PendingFile, error) {
	files := make([]selection.PendingFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		files = append(files, selection.PendingFile{
			Name:   filepath.Base(p),
			Size:   info.Size(),
			Source: selection.FileSource{Path: p},
		})
	}
	return files, nil
}

func getCmd(e *env) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Download a file",
		Long: `Download a file through a signed link. It is saved under its base name
in the current directory unless --output says otherwise; "-" writes to stdout.`,
		Example: `  bucketdesk get documents/report.pdf
  bucketdesk get logs/app.log -o - | tail`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return e.withDesk(cmd, func(_ *app, d *desk.Desk) error {
				if output == "-" {
					v, err := d.Dispatch(cmd.Context(), desk.Download{Key: key, W: cmd.OutOrStdout()})
					printNotes(cmd.ErrOrStderr(), v.Notifications)
					return err
				}

				dst := output
				if dst == "" {
					dst = filemeta.BaseName(key)
				}
				f, err := os.Create(dst)
				if err != nil {
					return err
				}
				v, err := d.Dispatch(cmd.Context(), desk.Download{Key: key, W: f})
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				printNotes(cmd.ErrOrStderr(), v.Notifications)
				if err != nil {
					os.Remove(dst)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", key, dst)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `destination path, "-" for stdout`)
	return cmd
}

func openCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "open KEY",
		Short: "Print a signed link to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withDesk(cmd, func(_ *app, d *desk.Desk) error {
				v, err := d.Dispatch(cmd.Context(), desk.Open{Key: args[0]})
				if err != nil {
					printNotes(cmd.ErrOrStderr(), v.Notifications)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.Result.OpenURL)
				return nil
			})
		},
	}
}

func rmCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm KEY",
		Short: "Delete a file",
		Long: `Delete a file after confirmation. On a terminal you are asked first;
elsewhere --yes is required.`,
		Example: `  bucketdesk rm documents/old.pdf
  bucketdesk rm documents/old.pdf --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return e.withDesk(cmd, func(_ *app, d *desk.Desk) error {
				if !yes {
					ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), actions.ConfirmPrompt(key))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.ErrOrStderr(), "aborted")
						return nil
					}
				}

				v, err := d.Dispatch(cmd.Context(), desk.Delete{Key: key, Confirmed: true})
				printNotes(cmd.ErrOrStderr(), v.Notifications)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	return cmd
}

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// confirm asks prompt on w and reads a y/N answer from r. A real stdin that
// is not a terminal cannot answer, so it is refused.
func confirm(r io.Reader, w io.Writer, prompt string) (bool, error) {
	if f, ok := r.(*os.File); ok && !isTerminal(int(f.Fd())) {
		return false, errors.New("refusing to delete without --yes: stdin is not a terminal")
	}
	fmt.Fprintf(w, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
