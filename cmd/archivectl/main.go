package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/api"
	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/config"
	"github.com/matheus3301/wpp-archive/internal/session"
	"github.com/matheus3301/wpp-archive/internal/store"
	"github.com/matheus3301/wpp-archive/internal/wa"
)

const dateLayout = "2006-01-02"

type cli struct {
	client  *api.Client
	jsonOut bool
	loc     *time.Location
}

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeout := flag.Duration("timeout", 0, "abort the command after this long (0 = no limit)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configFlag)
	if err != nil {
		fatal(err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fatal(err)
	}
	sessionName := session.Resolve(*sessionFlag, cfg)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	cl := &cli{client: c, jsonOut: *jsonFlag, loc: loc}
	if err := cl.run(ctx, args[0], args[1:]); err != nil {
		fatal(err)
	}
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "status":
		return c.status(ctx)
	case "pair":
		return c.pair(ctx)
	case "logout":
		return c.logout(ctx)
	case "dialogs":
		return c.dialogs(ctx, args)
	case "fetch":
		return c.fetch(ctx, args)
	case "save":
		return c.save(ctx, args)
	case "archived":
		return c.archived(ctx, args)
	case "show":
		return c.show(ctx, args)
	case "tags":
		return c.tags(ctx, args)
	case "tag":
		return c.tag(ctx, args)
	case "reconcile":
		return c.reconcile(ctx)
	case "progress":
		return c.progress(ctx, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: archivectl [--session <name>] [--json] [--timeout <d>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  pair                                   Link this device by scanning a QR code")
	fmt.Fprintln(os.Stderr, "  logout                                 Unlink this device")
	fmt.Fprintln(os.Stderr, "  dialogs [-type t] [-title s] [-sort date|title] [-desc]")
	fmt.Fprintln(os.Stderr, "  fetch <dialog> [-from d] [-to d] [-text s] [-desc]")
	fmt.Fprintln(os.Stderr, "  save <dialog> <grouped-id>... [-from d] [-to d] [-text s]")
	fmt.Fprintln(os.Stderr, "  archived [-dialog id] [-text s] [-tags a;b] [-sort date|title] [-desc] [-limit n]")
	fmt.Fprintln(os.Stderr, "  show <grouped-id>                      Show an archived group")
	fmt.Fprintln(os.Stderr, "  tags [-sort name|usage_count|updated_at] [-desc]")
	fmt.Fprintln(os.Stderr, "  tag add|remove <name> <grouped-id>")
	fmt.Fprintln(os.Stderr, "  tag rename <old> <new> [grouped-id]    Rename on one group, or everywhere")
	fmt.Fprintln(os.Stderr, "  reconcile                              Repair the archive against the media root")
	fmt.Fprintln(os.Stderr, "  progress [-limit n] [-op id]           Show progress entries")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func (c *cli) status(ctx context.Context) error {
	resp, err := c.client.Status(ctx, &api.StatusRequest{})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Session:  %s\n", resp.Session)
	fmt.Printf("Status:   %s (since %s)\n", resp.State, resp.StateSince.In(c.loc).Format(time.DateTime))
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	if resp.PhoneNumber != "" {
		fmt.Printf("Phone:    %s\n", resp.PhoneNumber)
	}
	fmt.Printf("Archive:  %d dialogs, %d groups\n", resp.Dialogs, resp.Groups)
	if resp.Activity != "" {
		fmt.Printf("Running:  %s\n", resp.Activity)
	}
	if r := resp.LastReconcile; r != nil {
		fmt.Printf("Reconciled: %s (deleted %d, downloaded %d, failed %d)\n",
			humanize.Time(r.Finished), r.Deleted, r.Downloaded, r.Failed)
	}
	return nil
}

func (c *cli) pair(ctx context.Context) error {
	return c.client.Pair(ctx, &api.PairRequest{}, func(evt wa.PairEvent) error {
		if c.jsonOut {
			outputJSON(evt)
			return nil
		}
		switch evt.Type {
		case wa.PairEventCode:
			qr, err := renderQR(evt.Code)
			if err != nil {
				return fmt.Errorf("render QR: %w", err)
			}
			fmt.Printf("\nScan this QR code with WhatsApp:\n\n%s\nWaiting for pairing...\n", qr)
		case wa.PairEventPaired:
			fmt.Println("Device paired.")
		case wa.PairEventTimeout:
			fmt.Println("Pairing timed out, run pair again.")
		default:
			fmt.Printf("Pairing failed: %s\n", evt.Message)
		}
		return nil
	})
}

func (c *cli) logout(ctx context.Context) error {
	if _, err := c.client.Logout(ctx, &api.LogoutRequest{}); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func (c *cli) dialogs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dialogs", flag.ExitOnError)
	types := fs.String("type", "", "comma-separated dialog types (channel, group, user, unknown)")
	title := fs.String("title", "", "keep dialogs whose title contains this")
	sortBy := fs.String("sort", string(chat.SortByDate), "sort by date or title")
	desc := fs.Bool("desc", false, "sort descending")
	_ = fs.Parse(args)

	filter := chat.DialogFilter{Title: *title, SortBy: chat.DialogSort(*sortBy), Descending: *desc}
	for name := range strings.SplitSeq(*types, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		t, err := parseDialogType(name)
		if err != nil {
			return err
		}
		filter.Types = append(filter.Types, t)
	}

	resp, err := c.client.ListDialogs(ctx, &api.ListDialogsRequest{Filter: filter})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "ID\tTYPE\tUNREAD\tLAST MESSAGE\tTITLE")
	for _, d := range resp.Dialogs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", d.ID, d.Type, d.UnreadCount, humanize.Time(d.LastMessageAt), d.Title)
	}
	return w.Flush()
}

func parseDialogType(name string) (chat.DialogType, error) {
	for _, t := range chat.DialogTypes {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown dialog type %q", name)
}

// queryFlags registers the fetch window flags on fs.
func (c *cli) queryFlags(fs *flag.FlagSet) func() (archive.Query, error) {
	from := fs.String("from", "", "first day, "+dateLayout)
	to := fs.String("to", "", "last day, "+dateLayout)
	text := fs.String("text", "", "keep groups whose text contains this")
	desc := fs.Bool("desc", false, "newest first")
	return func() (archive.Query, error) {
		q := archive.Query{Text: *text, Order: aggregate.Ascending}
		if *desc {
			q.Order = aggregate.Descending
		}
		var err error
		if *from != "" {
			if q.From, err = time.ParseInLocation(dateLayout, *from, c.loc); err != nil {
				return q, fmt.Errorf("-from: %w", err)
			}
		}
		if *to != "" {
			if q.To, err = time.ParseInLocation(dateLayout, *to, c.loc); err != nil {
				return q, fmt.Errorf("-to: %w", err)
			}
			q.To = q.To.AddDate(0, 0, 1)
		}
		return q, nil
	}
}

// parseArgs parses flags wherever they appear among the positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		_ = fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func parseDialogID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid dialog id %q", s)
	}
	return id, nil
}

func (c *cli) fetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	query := c.queryFlags(fs)
	pos := parseArgs(fs, args)
	if len(pos) != 1 {
		return fmt.Errorf("usage: archivectl fetch <dialog> [flags]")
	}
	dialogID, err := parseDialogID(pos[0])
	if err != nil {
		return err
	}
	q, err := query()
	if err != nil {
		return err
	}

	resp, err := c.client.FetchGroups(ctx, &api.FetchGroupsRequest{DialogID: dialogID, Query: q})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("%s: %d groups\n", resp.Dialog.Title, len(resp.Groups))
	w := newTable()
	fmt.Fprintln(w, "GROUP\tDATE\tSAVED\tFILES\tTEXT")
	for _, g := range resp.Groups {
		saved := ""
		if g.Saved {
			saved = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.Key, g.Date.In(c.loc).Format(time.DateTime), saved, g.FilesReport, oneLine(g.Truncated))
	}
	return w.Flush()
}

func (c *cli) save(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	query := c.queryFlags(fs)
	pos := parseArgs(fs, args)
	if len(pos) < 2 {
		return fmt.Errorf("usage: archivectl save <dialog> <grouped-id>... [flags]")
	}
	dialogID, err := parseDialogID(pos[0])
	if err != nil {
		return err
	}
	q, err := query()
	if err != nil {
		return err
	}

	resp, err := c.client.SaveGroups(ctx, &api.SaveGroupsRequest{DialogID: dialogID, Query: q, GroupedIDs: pos[1:]})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	r := resp.Result
	fmt.Printf("Saved %d groups, %d failed\n", len(r.Saved), len(r.Failed))
	fmt.Printf("Files: %d (downloaded %d, existing %d, skipped %d, errors %d)\n", r.Files, r.Downloaded, r.Existing, r.Skipped, r.Errors)
	for _, key := range r.Failed {
		fmt.Printf("  failed: %s\n", key)
	}
	for _, key := range resp.Unknown {
		fmt.Printf("  not fetched: %s\n", key)
	}
	return nil
}

func (c *cli) archived(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("archived", flag.ExitOnError)
	dialog := fs.Int64("dialog", 0, "keep groups of this dialog")
	text := fs.String("text", "", "keep groups whose text contains this")
	tagTerms := fs.String("tags", "", "keep groups with a tag matching any "+store.TagSeparator+"-separated term")
	sortBy := fs.String("sort", string(store.GroupSortDate), "sort by date or title")
	desc := fs.Bool("desc", false, "sort descending")
	limit := fs.Int("limit", 50, "maximum groups to list (0 = all)")
	_ = fs.Parse(args)

	q := store.GroupQuery{Text: *text, Tags: *tagTerms, SortBy: store.GroupSort(*sortBy), Descending: *desc, Limit: *limit}
	if *dialog != 0 {
		q.DialogIDs = []int64{*dialog}
	}
	resp, err := c.client.ListArchived(ctx, &api.ListArchivedRequest{Query: q})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "GROUP\tDIALOG\tDATE\tFILES\tTAGS\tTEXT")
	for _, g := range resp.Groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", g.GroupedID, g.DialogTitle, g.Date.In(c.loc).Format(time.DateTime),
			g.FilesReport, strings.Join(g.Tags, ", "), oneLine(g.TruncatedText))
	}
	return w.Flush()
}

func (c *cli) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: archivectl show <grouped-id>")
	}
	resp, err := c.client.GetArchived(ctx, &api.GetArchivedRequest{GroupedID: args[0]})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	g := resp.Group
	fmt.Printf("Group:  %s\n", g.GroupedID)
	fmt.Printf("Dialog: %s (%d)\n", g.DialogTitle, g.DialogID)
	fmt.Printf("Date:   %s\n", g.Date.In(c.loc).Format(time.DateTime))
	fmt.Printf("Sender: %s\n", g.SenderID)
	if len(g.Tags) > 0 {
		fmt.Printf("Tags:   %s\n", strings.Join(g.Tags, ", "))
	}
	if g.Text != "" {
		fmt.Printf("\n%s\n", g.Text)
	}
	if len(g.Files) > 0 {
		fmt.Println()
		w := newTable()
		fmt.Fprintln(w, "TYPE\tSIZE\tPATH")
		for _, f := range g.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Type, humanize.Bytes(uint64(max(f.Size, 0))), f.Path)
		}
		return w.Flush()
	}
	return nil
}

func (c *cli) tags(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	sortBy := fs.String("sort", string(store.TagSortName), "sort by name, usage_count or updated_at")
	desc := fs.Bool("desc", false, "sort descending")
	_ = fs.Parse(args)

	resp, err := c.client.ListTags(ctx, &api.ListTagsRequest{Sort: store.TagSort{By: store.TagSortField(*sortBy), Descending: *desc}})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "TAG\tUSED\tUPDATED")
	for _, t := range resp.Tags {
		fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name, t.UsageCount, t.UpdatedAt.In(c.loc).Format(time.DateTime))
	}
	return w.Flush()
}

func (c *cli) tag(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: archivectl tag add|remove|rename ...")
	}
	var (
		resp *api.TagResponse
		err  error
	)
	switch sub, rest := args[0], args[1:]; {
	case (sub == "add" || sub == "remove") && len(rest) == 2:
		req := &api.TagRequest{Name: rest[0], GroupedID: rest[1]}
		if sub == "add" {
			resp, err = c.client.AddTag(ctx, req)
		} else {
			resp, err = c.client.RemoveTag(ctx, req)
		}
	case sub == "rename" && len(rest) == 3:
		resp, err = c.client.RenameTag(ctx, &api.RenameTagRequest{OldName: rest[0], NewName: rest[1], GroupedID: rest[2]})
	case sub == "rename" && len(rest) == 2:
		resp, err = c.client.RenameTagEverywhere(ctx, &api.RenameTagRequest{OldName: rest[0], NewName: rest[1]})
	default:
		return fmt.Errorf("usage: archivectl tag add|remove <name> <grouped-id> | rename <old> <new> [grouped-id]")
	}
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	if resp.Result.GroupTags != nil {
		fmt.Printf("Group tags: %s\n", strings.Join(resp.Result.GroupTags, ", "))
	}
	fmt.Printf("%d tags in archive\n", len(resp.Result.AllTags))
	return nil
}

func (c *cli) reconcile(ctx context.Context) error {
	resp, err := c.client.Reconcile(ctx, &api.ReconcileRequest{})
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	r := resp.Report
	fmt.Printf("Files in archive: %d, on disk: %d\n", r.Stored, r.Local)
	fmt.Printf("Deleted: %d, pruned dirs: %d\n", r.Deleted, r.DirsPruned)
	fmt.Printf("Missing: %d (downloaded %d, regenerated %d, skipped %d, not found %d, failed %d)\n",
		r.Missing, r.Downloaded, r.Regenerated, r.Skipped, r.NotFound, r.Failed)
	if r.Backup != "" {
		fmt.Printf("Backup: %s\n", r.Backup)
	}
	return nil
}

func (c *cli) progress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	limit := fs.Int("limit", 50, "latest entries to show (0 = all)")
	op := fs.String("op", "", "show one operation by id")
	_ = fs.Parse(args)

	req := &api.ProgressRequest{Limit: *limit}
	if *op != "" {
		id, err := uuid.Parse(*op)
		if err != nil {
			return fmt.Errorf("-op: %w", err)
		}
		req.Operation = id
	}
	resp, err := c.client.Progress(ctx, req)
	if err != nil {
		return err
	}
	if c.jsonOut {
		outputJSON(resp)
		return nil
	}
	for _, e := range resp.Entries {
		fmt.Println(e)
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
