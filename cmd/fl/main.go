package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetline/internal/config"
	"fleetline/internal/db"
	"fleetline/internal/engine"
	"fleetline/internal/migrate"
	"fleetline/internal/seed"
	"fleetline/internal/server"
	fleetlinesdk "fleetline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fleetline CLI",
	Long: `Fleetline runs a delivery-operations service: partners, orders, and a
scoring-based dispatch engine that matches pending orders to the fleet.

State lives in process memory, so start the API first ('fl serve') and point
the other commands at it with --server or FLEETLINE_SERVER.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLEETLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://127.0.0.1:8080", "API base URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(partnerCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var seedDemo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			conn, err := db.Open(db.Config{})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if seedDemo {
				if err := seed.Load(cmd.Context(), conn); err != nil {
					return err
				}
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fleetline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "load the built-in demo fleet")
	return cmd
}

func partnerCmd() *cobra.Command {
	p := &cobra.Command{Use: "partner", Short: "Manage delivery partners"}
	p.AddCommand(partnerListCmd())
	p.AddCommand(partnerShowCmd())
	p.AddCommand(partnerCreateCmd())
	p.AddCommand(partnerUpdateCmd())
	p.AddCommand(partnerDeleteCmd())
	return p
}

func partnerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().Partners(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Status", "Load", "Areas", "Rating"})
			for _, p := range items {
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CurrentLoad, strings.Join(p.Areas, ", "), p.Metrics.Rating})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func partnerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show partner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := client().Partner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	return cmd
}

func partnerCreateCmd() *cobra.Command {
	var name, email, phone, status, shiftStart, shiftEnd string
	var areas []string
	var rating float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register partner",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"name":  name,
				"email": email,
			}
			if phone != "" {
				body["phone"] = phone
			}
			if status != "" {
				body["status"] = status
			}
			if len(areas) > 0 {
				body["areas"] = areas
			}
			if shiftStart != "" || shiftEnd != "" {
				body["shift"] = map[string]string{"start": shiftStart, "end": shiftEnd}
			}
			if cmd.Flags().Changed("rating") {
				body["rating"] = rating
			}
			p, err := client().CreatePartner(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "partner name")
	cmd.Flags().StringVar(&email, "email", "", "partner email")
	cmd.Flags().StringVar(&phone, "phone", "", "partner phone")
	cmd.Flags().StringVar(&status, "status", "", "active|inactive")
	cmd.Flags().StringSliceVar(&areas, "area", nil, "service area (repeatable)")
	cmd.Flags().StringVar(&shiftStart, "shift-start", "", "shift start HH:MM")
	cmd.Flags().StringVar(&shiftEnd, "shift-end", "", "shift end HH:MM")
	cmd.Flags().Float64Var(&rating, "rating", 0, "initial rating 0-5")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func partnerUpdateCmd() *cobra.Command {
	var name, email, phone, status, shiftStart, shiftEnd string
	var areas []string
	var rating float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update partner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("name") {
				body["name"] = name
			}
			if cmd.Flags().Changed("email") {
				body["email"] = email
			}
			if cmd.Flags().Changed("phone") {
				body["phone"] = phone
			}
			if cmd.Flags().Changed("status") {
				body["status"] = status
			}
			if cmd.Flags().Changed("area") {
				body["areas"] = areas
			}
			if cmd.Flags().Changed("shift-start") || cmd.Flags().Changed("shift-end") {
				body["shift"] = map[string]string{"start": shiftStart, "end": shiftEnd}
			}
			if cmd.Flags().Changed("rating") {
				body["rating"] = rating
			}
			p, err := client().UpdatePartner(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "partner name")
	cmd.Flags().StringVar(&email, "email", "", "partner email")
	cmd.Flags().StringVar(&phone, "phone", "", "partner phone")
	cmd.Flags().StringVar(&status, "status", "", "active|inactive")
	cmd.Flags().StringSliceVar(&areas, "area", nil, "service area (repeatable, replaces the set)")
	cmd.Flags().StringVar(&shiftStart, "shift-start", "", "shift start HH:MM")
	cmd.Flags().StringVar(&shiftEnd, "shift-end", "", "shift end HH:MM")
	cmd.Flags().Float64Var(&rating, "rating", 0, "rating 0-5")
	return cmd
}

func partnerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete partner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DeletePartner(cmd.Context(), args[0])
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	o := &cobra.Command{Use: "order", Short: "Manage orders"}
	o.AddCommand(orderListCmd())
	o.AddCommand(orderShowCmd())
	o.AddCommand(orderCreateCmd())
	o.AddCommand(orderStatusCmd())
	return o
}

func orderListCmd() *cobra.Command {
	var status, area, assignedTo string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().Orders(cmd.Context(), fleetlinesdk.OrderFilters{
				Status:     status,
				Area:       area,
				AssignedTo: assignedTo,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Number", "Customer", "Area", "Status", "Assigned To", "Total"})
			for _, o := range items {
				tw.AppendRow(table.Row{o.ID, o.OrderNumber, o.Customer.Name, o.Area, o.Status,
					stringOrDash(o.AssignedTo), fmt.Sprintf("%.2f", o.TotalAmount)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&area, "area", "", "filter by area")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "filter by partner id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := client().Order(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(o)
		},
	}
	return cmd
}

func orderCreateCmd() *cobra.Command {
	var customerName, customerPhone, customerAddress, area, scheduledFor string
	var items []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register order",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseItems(items)
			if err != nil {
				return err
			}
			body := map[string]any{
				"customer": map[string]string{
					"name":    customerName,
					"phone":   customerPhone,
					"address": customerAddress,
				},
				"area":  area,
				"items": parsed,
			}
			if scheduledFor != "" {
				body["scheduled_for"] = scheduledFor
			}
			o, err := client().CreateOrder(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&customerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&customerPhone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&customerAddress, "address", "", "customer address")
	cmd.Flags().StringVar(&area, "area", "", "delivery area")
	cmd.Flags().StringSliceVar(&items, "item", nil, "item as name:quantity:price (repeatable)")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "scheduled time HH:MM")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("area")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func orderStatusCmd() *cobra.Command {
	var partnerID string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Update order status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := client().UpdateOrderStatus(cmd.Context(), args[0], args[1], partnerID)
			if err != nil {
				return err
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&partnerID, "partner", "", "partner id (required when assigning)")
	return cmd
}

func assignmentCmd() *cobra.Command {
	a := &cobra.Command{Use: "assignment", Short: "Dispatch and inspect assignments"}
	a.AddCommand(assignmentRunCmd())
	a.AddCommand(assignmentListCmd())
	a.AddCommand(assignmentActiveCmd())
	a.AddCommand(assignmentMetricsCmd())
	return a
}

func assignmentRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a dispatch pass over pending orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().RunAssignment(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			renderAssignments(res.Assignments)
			return nil
		},
	}
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignment log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().Assignments(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			renderAssignments(items)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func assignmentActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List assignments still in flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ActiveAssignments(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			renderAssignments(items)
			return nil
		},
	}
	return cmd
}

func assignmentMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show assignment metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := client().AssignmentMetrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(m)
		},
	}
	return cmd
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the operations snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client().Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(d)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Metric", "Value"})
			for _, status := range []string{"pending", "assigned", "picked", "delivered"} {
				tw.AppendRow(table.Row{"orders " + status, d.OrdersByStatus[status]})
			}
			tw.AppendRow(table.Row{"partners available", d.PartnerAvailability.Available})
			tw.AppendRow(table.Row{"partners busy", d.PartnerAvailability.Busy})
			tw.AppendRow(table.Row{"partners offline", d.PartnerAvailability.Offline})
			tw.AppendRow(table.Row{"fleet active", d.Fleet.TotalActive})
			tw.AppendRow(table.Row{"fleet avg rating", fmt.Sprintf("%.1f", d.Fleet.AvgRating)})
			tw.AppendRow(table.Row{"top areas", strings.Join(d.Fleet.TopAreas, ", ")})
			tw.Render()
			renderAssignments(d.RecentAssignments)
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().Events(cmd.Context(), n)
			if err != nil {
				return err
			}
			return printJSONOrTable(events)
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
		},
	}
	return cmd
}

// --- helpers ---

func client() *fleetlinesdk.Client {
	return fleetlinesdk.New(viper.GetString("server"))
}

func renderAssignments(items []fleetlinesdk.Assignment) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Order", "Partner", "Status", "Reason", "Time"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.OrderID, stringOrDash(a.PartnerID), a.Status, a.Reason, a.Timestamp})
	}
	tw.Render()
}

// parseItems turns repeated name:quantity:price flags into order items.
func parseItems(raw []string) ([]map[string]any, error) {
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid item %q: want name:quantity:price", r)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid item quantity in %q: %w", r, err)
		}
		price, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item price in %q: %w", r, err)
		}
		items = append(items, map[string]any{"name": parts[0], "quantity": qty, "price": price})
	}
	return items, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrDash(ptr *string) string {
	if ptr == nil || *ptr == "" {
		return "-"
	}
	return *ptr
}
