// Command inspect prints the users or one conversation stored in a chatline
// Badger directory. It opens the database read-only, so the server should be
// stopped first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/christopherjohns/chatline/internal/message"
	"github.com/christopherjohns/chatline/internal/user"
	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", "data/badger", "Path to badger DB")
	a := flag.String("a", "", "First participant user id")
	b := flag.String("b", "", "Second participant user id")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("open badger: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	table := newTable()

	if *a == "" || *b == "" {
		people, err := user.NewBadgerRepository(db).List(ctx)
		if err != nil {
			return err
		}
		table.SetHeader([]string{"User ID", "Username"})
		for _, p := range people {
			table.Append([]string{p.ID, p.Username})
		}
		table.Render()
		return nil
	}

	msgs, err := message.NewBadgerStore(db).Conversation(ctx, *a, *b)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d messages)\n", strings.TrimSuffix(message.ConversationPrefix(*a, *b), ":"), len(msgs))
	table.SetHeader([]string{"ID", "Time", "Sender", "Recipient", "Text", "File"})
	for _, m := range msgs {
		table.Append([]string{
			m.ID,
			m.CreatedAt.Format("2006-01-02 15:04:05.000"),
			m.Sender,
			m.Recipient,
			truncate(m.Text, 60),
			m.File,
		})
	}
	table.Render()
	return nil
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
