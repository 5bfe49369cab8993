package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/esnunes/repeater/internal/client"
	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/repeater"
	"github.com/esnunes/repeater/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the record editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path, err := a.dbPath()
			if err != nil {
				return err
			}
			lock, err := db.Lock(path)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			database, svc, err := a.openService(path)
			if err != nil {
				return err
			}
			defer database.Close()

			srv, err := server.New(svc, a.cfg.DefaultUser, a.logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			if err := srv.Listen(a.cfg.Addr); err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func createCmd() *cobra.Command {
	var user int64
	cmd := &cobra.Command{
		Use:   "create <template> <title>",
		Short: "Create an unpublished record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			path, err := a.dbPath()
			if err != nil {
				return err
			}
			database, svc, err := a.openService(path)
			if err != nil {
				return err
			}
			defer database.Close()

			if user == 0 {
				user = a.cfg.DefaultUser
			}
			host, err := svc.CreateHost(cmd.Context(), user, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), host.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "Acting user id (default from config)")
	return cmd
}

// shownItem and shownHost are the YAML shape printed by show.
type shownItem struct {
	ID     int64             `yaml:"id"`
	State  string            `yaml:"state"`
	Sort   int               `yaml:"sort"`
	Public bool              `yaml:"public"`
	Values map[string]string `yaml:"values,omitempty"`
}

type shownHost struct {
	ID        int64                  `yaml:"id"`
	Template  string                 `yaml:"template"`
	Status    string                 `yaml:"status"`
	Updated   time.Time              `yaml:"updated"`
	Values    map[string]string      `yaml:"values,omitempty"`
	Repeaters map[string][]shownItem `yaml:"repeaters,omitempty"`
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a record with its repeater items as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			path, err := a.dbPath()
			if err != nil {
				return err
			}
			database, svc, err := a.openService(path)
			if err != nil {
				return err
			}
			defer database.Close()

			view, err := svc.Host(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("loading record %d: %w", id, err)
			}
			out := shownHost{
				ID:        view.Host.ID,
				Template:  view.Host.Template,
				Status:    view.Host.Status(),
				Updated:   view.Host.UpdatedAt,
				Values:    view.Values,
				Repeaters: make(map[string][]shownItem, len(view.Repeaters)),
			}
			for name, items := range view.Repeaters {
				for _, it := range items {
					out.Repeaters[name] = append(out.Repeaters[name], shownItem{
						ID:     it.ID(),
						State:  it.State().String(),
						Sort:   it.Node.Sort,
						Public: view.Public[it.ID()],
						Values: it.Values,
					})
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func addCmd() *cobra.Command {
	var (
		serverURL string
		user      int64
		exclude   []int64
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <record-id> <field-id>",
		Short: "Ask a running server for a draft item",
		Long: `Add performs the editor's add round trip against a running server and
prints the returned item id and its edit fragment. Ids passed with --exclude
are treated as already shown.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			fieldID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid field id %q", args[1])
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			registry, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			field, ok := registry.Repeater(fieldID)
			if !ok {
				return fmt.Errorf("field %d: %w", fieldID, repeater.ErrNotRepeater)
			}

			if serverURL == "" {
				serverURL = "http://" + a.cfg.Addr
			}
			if user == 0 {
				user = a.cfg.DefaultUser
			}
			shown := make([]client.Loaded, 0, len(exclude))
			for _, id := range exclude {
				shown = append(shown, client.Loaded{ID: id, State: repeater.StateActive})
			}
			list := client.NewList(field.Name, shown)

			c := &client.Client{BaseURL: serverURL, UserID: user, Timeout: timeout}
			it, err := c.Add(cmd.Context(), hostID, fieldID, list)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n%s\n", it.ID, it.Fragment)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default from config addr)")
	cmd.Flags().Int64Var(&user, "user", 0, "Acting user id (default from config)")
	cmd.Flags().Int64SliceVar(&exclude, "exclude", nil, "Item ids already shown")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Round trip timeout")
	return cmd
}
