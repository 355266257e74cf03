// Command calshare is the calendar client. It keeps an offline copy of the
// shared collection, commits changes through the advisory-lock protocol and
// can watch the server for updates.
//
// Usage:
//
//	calshare [flags] list [-month YYYY-MM]
//	calshare [flags] upcoming [-days N]
//	calshare [flags] add -title T -start YYYY-MM-DD [-end D] [-desc D] [-annual]
//	calshare [flags] edit -id N [-title T] [-start D] [-end D] [-desc D] [-annual]
//	calshare [flags] delete -id N
//	calshare [flags] lock-status
//	calshare [flags] watch [-poll SPEC]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"calshare/internal/client"
	"calshare/internal/dates"
	appLog "calshare/internal/log"
	"calshare/internal/model"
)

func main() {
	var (
		server   = flag.String("server", envOr("CALSHARE_SERVER", "http://127.0.0.1:8080"), "Server base URL")
		username = flag.String("username", os.Getenv("CALSHARE_USERNAME"), "Username")
		password = flag.String("password", os.Getenv("CALSHARE_PASSWORD"), "Password")
		cacheDir = flag.String("cache-dir", "", "Offline cache directory (default: user cache dir)")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := connect(ctx, *server, *username, *password, *cacheDir)
	if err != nil {
		fatal(err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "list":
		err = runList(sess, args)
	case "upcoming":
		err = runUpcoming(sess, args)
	case "add":
		err = runAdd(ctx, sess, args)
	case "edit":
		err = runEdit(ctx, sess, args)
	case "delete":
		err = runDelete(ctx, sess, args)
	case "lock-status":
		err = runLockStatus(ctx, sess)
	case "watch":
		err = runWatch(ctx, sess, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

// cliSession bundles the API client and the live session for commands.
type cliSession struct {
	api  *client.Client
	sess *client.Session
}

func connect(ctx context.Context, server, username, password, cacheDir string) (*cliSession, error) {
	api, err := client.New(server)
	if err != nil {
		return nil, err
	}

	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = "."
		}
		cacheDir = filepath.Join(base, "calshare")
	}
	cache := client.NewCache(filepath.Join(cacheDir, "events.json"))

	var actor client.Actor
	if username != "" && password != "" {
		actor, err = api.Login(ctx, username, password)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("username and password are required (flags or CALSHARE_USERNAME/CALSHARE_PASSWORD)")
	}

	sess := client.NewSession(api, cache, actor, nil)
	if err := sess.Reconcile(ctx); err != nil {
		return nil, err
	}
	if sess.Status() == client.StatusOffline {
		fmt.Fprintln(os.Stderr, "warning: server unreachable, showing cached events")
	}
	return &cliSession{api: api, sess: sess}, nil
}

func runList(cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	month := fs.String("month", time.Now().Format("2006-01"), "Month to list (YYYY-MM)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	first, err := time.Parse("2006-01", *month)
	if err != nil {
		return fmt.Errorf("invalid month %q", *month)
	}
	start := first.Format("2006-01-02")
	end := first.AddDate(0, 1, -1).Format("2006-01-02")

	view := cs.sess.View()
	var entries []model.Event
	for _, e := range view.Entries {
		if dates.OverlapsRange(e, start, end) {
			entries = append(entries, e)
		}
	}
	year := dates.Year(start)
	sort.Slice(entries, func(i, j int) bool {
		return dates.ResolveToYear(entries[i].StartDate, year) < dates.ResolveToYear(entries[j].StartDate, year)
	})

	if len(entries) == 0 {
		fmt.Println("No events this month")
		return nil
	}
	for _, e := range entries {
		printEntry(e, year)
	}
	return nil
}

func runUpcoming(cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("upcoming", flag.ExitOnError)
	days := fs.Int("days", 30, "How many days ahead to look")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from := time.Now().Format("2006-01-02")
	to := time.Now().AddDate(0, 0, *days).Format("2006-01-02")

	type upcoming struct {
		date  string
		entry model.Event
	}
	var found []upcoming
	for _, e := range cs.sess.View().Entries {
		occs, err := dates.Occurrences(e, from, to)
		if err != nil {
			appLog.Warn("skipping entry with bad dates", "id", e.ID, "err", err)
			continue
		}
		for _, d := range occs {
			found = append(found, upcoming{date: d, entry: e})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].date < found[j].date })

	if len(found) == 0 {
		fmt.Printf("No events in the next %d days\n", *days)
		return nil
	}
	for _, u := range found {
		marker := ""
		if dates.IsAnnual(u.entry.StartDate) {
			marker = " [annual]"
		}
		fmt.Printf("%s  %s%s\n", u.date, u.entry.Title, marker)
	}
	return nil
}

func runAdd(ctx context.Context, cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "Event title")
	desc := fs.String("desc", "", "Event description")
	start := fs.String("start", "", "Start date (YYYY-MM-DD)")
	end := fs.String("end", "", "End date (defaults to start)")
	annual := fs.Bool("annual", false, "Recur every year")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *end == "" {
		*end = *start
	}
	startDate, endDate := *start, *end
	if *annual {
		startDate, endDate = dates.ToAnnual(startDate), dates.ToAnnual(endDate)
	}

	updated, err := cs.sess.Apply(ctx, client.Change{
		Kind: client.ChangeAdd,
		Entry: model.Event{
			Title:       *title,
			Description: *desc,
			StartDate:   startDate,
			EndDate:     endDate,
		},
	})
	if err != nil {
		return err
	}
	added := updated.Entries[len(updated.Entries)-1]
	fmt.Printf("Added %q (id %d)\n", added.Title, added.ID)
	return nil
}

func runEdit(ctx context.Context, cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	id := fs.Int64("id", 0, "Entry id")
	title := fs.String("title", "", "New title (empty keeps current)")
	desc := fs.String("desc", "\x00", "New description")
	start := fs.String("start", "", "New start date")
	end := fs.String("end", "", "New end date")
	annual := fs.Bool("annual", false, "Recur every year")
	if err := fs.Parse(args); err != nil {
		return err
	}

	current, ok := cs.sess.View().Find(*id)
	if !ok {
		return fmt.Errorf("no entry with id %d", *id)
	}
	entry := current
	if *title != "" {
		entry.Title = *title
	}
	if *desc != "\x00" {
		entry.Description = *desc
	}
	if *start != "" {
		entry.StartDate = *start
	}
	if *end != "" {
		entry.EndDate = *end
	}
	if *annual {
		entry.StartDate = dates.ToAnnual(entry.StartDate)
		entry.EndDate = dates.ToAnnual(entry.EndDate)
	}

	if _, err := cs.sess.Apply(ctx, client.Change{Kind: client.ChangeEdit, Entry: entry}); err != nil {
		return err
	}
	fmt.Printf("Updated %q (id %d)\n", entry.Title, entry.ID)
	return nil
}

func runDelete(ctx context.Context, cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.Int64("id", 0, "Entry id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := cs.sess.Apply(ctx, client.Change{Kind: client.ChangeDelete, ID: *id}); err != nil {
		return err
	}
	fmt.Printf("Deleted entry %d\n", *id)
	return nil
}

func runLockStatus(ctx context.Context, cs *cliSession) error {
	lock, locked, err := cs.api.LockStatus(ctx)
	if err != nil {
		return err
	}
	if !locked {
		fmt.Println("Not locked")
		return nil
	}
	fmt.Printf("Locked by %s (age %s)\n", lock.User, lock.Age(time.Now()).Round(time.Second))
	return nil
}

func runWatch(ctx context.Context, cs *cliSession, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	poll := fs.String("poll", client.DefaultPollSpec, "Poll schedule (cron expression or @every interval)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Printf("Watching for changes (%s), Ctrl-C to stop\n", *poll)
	cs.sess.SetOnChange(func(events model.Collection) {
		fmt.Printf("%s  collection changed, %d entries\n",
			time.Now().Format(time.RFC3339), len(events.Entries))
	})
	poller := client.NewPoller(cs.sess, *poll)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	<-ctx.Done()
	return nil
}

func printEntry(e model.Event, year int) {
	start := dates.ResolveToYear(e.StartDate, year)
	end := dates.ResolveToYear(e.EndDate, year)
	span := start
	if end != start {
		span = start + " .. " + end
	}
	marker := ""
	if dates.IsAnnual(e.StartDate) {
		marker = " [annual]"
	}
	fmt.Printf("%-12d %s  %s%s\n", e.ID, span, e.Title, marker)
	if e.Description != "" {
		fmt.Printf("             %s\n", e.Description)
	}
	fmt.Printf("             added by %s on %s\n", e.Author, e.Timestamp)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
