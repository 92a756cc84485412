package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shipline/internal/analytics"
	"shipline/internal/app"
	"shipline/internal/blob"
	"shipline/internal/config"
	"shipline/internal/domain"
	"shipline/internal/engine"
	"shipline/internal/repo"
	"shipline/internal/server"
	"shipline/internal/templates"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shipline CLI",
	Long: `Shipline books live-animal shipments and tracks the paperwork behind them.
- Shipments: an import, export or in-transit move with a number like IMPORT-007, animals, route and linked horse, owner and agents.
- Tasks: the checklist generated from the type's templates; each task has a due date counted back from the shipment date, files and email recipients.
- Directory: agents, horses, owners and customers; each keeps the ids of the shipments it appears on.
- Requests: customer enquiries that can be converted into shipments, crediting loyalty points.
- Workspace: shipline.yml plus .shipline/ holding the database and uploaded files. Environment overrides go in .env or SHIPLINE_* variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(envPath(workspace)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envPath(workspace), err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHIPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", server.LocalActor, "actor identifier recorded in history")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("store-driver", "", "override store.driver (memory, file, sqlite, postgres)")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	for _, name := range []string{"workspace", "json", "actor-id", "force", "store-driver", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(shipmentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(horseCmd())
	rootCmd.AddCommand(ownerCmd())
	rootCmd.AddCommand(customerCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(numberCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func envPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".env")
}

// loadConfig reads shipline.yml when present and applies SHIPLINE_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("store-driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("store-dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("blob-driver"); v != "" {
		cfg.Blob.Driver = blob.Driver(v)
	}
	if v := viper.GetString("blob-bucket"); v != "" {
		cfg.Blob.S3.Bucket = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if viper.IsSet("dev-login") {
		cfg.Auth.DevLogin = viper.GetBool("dev-login")
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc.Engine)
}

func openServices(ctx context.Context) (*app.Services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, viper.GetString("workspace"), cfg, nil)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func shipmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "shipment", Short: "Manage shipments"}
	cmd.AddCommand(shipmentCreateCmd())
	cmd.AddCommand(shipmentListCmd())
	cmd.AddCommand(shipmentShowCmd())
	cmd.AddCommand(shipmentStatusCmd())
	cmd.AddCommand(shipmentHistoryCmd())
	return cmd
}

func shipmentCreateCmd() *cobra.Command {
	var opts engine.ShipmentCreateOptions
	var agents []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a shipment with its numbered checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range agents {
				alloc, err := parseAgentFlag(a)
				if err != nil {
					return err
				}
				opts.Agents = append(opts.Agents, alloc)
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateShipment(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Created %s (%s) with %d tasks\n", res.Shipment.ShipmentNumber, res.Shipment.ID, len(res.Shipment.Tasks))
				for _, u := range res.Unlinked {
					fmt.Printf("  not linked: %s %q\n", u.Kind, u.Ref)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "Import, Export or In-Transit")
	cmd.Flags().StringVar(&opts.Date, "date", "", "shipment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (default Pending)")
	cmd.Flags().StringVar(&opts.OriginCountry, "origin-country", "", "origin country")
	cmd.Flags().StringVar(&opts.OriginAirport, "origin-airport", "", "origin IATA code")
	cmd.Flags().StringVar(&opts.DestinationCountry, "destination-country", "", "destination country")
	cmd.Flags().StringVar(&opts.DestinationAirport, "destination-airport", "", "destination IATA code")
	cmd.Flags().StringVar(&opts.AnimalType, "animal-type", "", "animal type")
	cmd.Flags().IntVar(&opts.NumAnimals, "animals", 0, "number of animals")
	cmd.Flags().StringVar(&opts.HorseID, "horse-id", "", "horse id")
	cmd.Flags().StringVar(&opts.HorseName, "horse", "", "horse name")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner id")
	cmd.Flags().StringVar(&opts.OwnerName, "owner", "", "owner name")
	cmd.Flags().StringArrayVar(&agents, "agent", nil, "agent name, optionally name:count (repeatable)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// parseAgentFlag reads "Name" or "Name:count".
func parseAgentFlag(v string) (domain.AgentAllocation, error) {
	name, count := v, 0
	if i := strings.LastIndex(v, ":"); i >= 0 {
		n, err := strconv.Atoi(v[i+1:])
		if err != nil {
			return domain.AgentAllocation{}, fmt.Errorf("invalid --agent %q: count must be a number", v)
		}
		name, count = v[:i], n
	}
	return domain.AgentAllocation{Name: strings.TrimSpace(name), AnimalCount: count}, nil
}

func shipmentListCmd() *cobra.Command {
	var date, typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shipments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (date == "") != (typ == "") {
				return fmt.Errorf("--date and --type must be given together")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					items []domain.Shipment
					err   error
				)
				if date != "" {
					items, err = e.Repo.GetShipmentsByDateAndType(ctx, date, typ)
				} else {
					items, err = e.Repo.GetShipments(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printShipments(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "exact shipment date")
	cmd.Flags().StringVar(&typ, "type", "", "shipment type")
	return cmd
}

func shipmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <shipment-id>",
		Short: "Show a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetShipmentByID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func shipmentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <shipment-id> <status>",
		Short: "Set shipment status (Pending, In Progress, Completed, Delayed, Cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.UpdateShipmentStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s is now %s\n", s.ShipmentNumber, s.Status)
				return nil
			})
		},
	}
}

func shipmentHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <shipment-id>",
		Short: "Show shipment activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetShipmentByID(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.History)
				}
				tw := newTable(table.Row{"Time", "Type", "Description"})
				for _, h := range s.History {
					tw.AppendRow(table.Row{h.Timestamp, h.Type, h.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Work a shipment's checklist"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskToggleCmd())
	cmd.AddCommand(taskRecipientsCmd())
	cmd.AddCommand(taskAttachCmd())
	cmd.AddCommand(taskDetachCmd())
	cmd.AddCommand(taskURLCmd())
	cmd.AddCommand(taskSendCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <shipment-id>",
		Short: "List tasks of a shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetShipmentByID(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.Tasks)
				}
				tw := newTable(table.Row{"ID", "Title", "Category", "Due", "Done", "Files", "Recipients"})
				for _, t := range s.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Category, t.DueDate, checkMark(t.Completed), len(t.Files), strings.Join(t.EmailRecipients, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, category, dueDate string
	var completed, required bool
	cmd := &cobra.Command{
		Use:   "update <shipment-id> <task-id>",
		Short: "Change task fields; only the flags given are applied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch repo.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("category") {
				patch.Category = &category
			}
			if flags.Changed("due-date") {
				patch.DueDate = &dueDate
			}
			if flags.Changed("completed") {
				patch.Completed = &completed
			}
			if flags.Changed("required") {
				patch.Required = &required
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], args[1], patch, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&dueDate, "due-date", "", "due date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&completed, "completed", false, "completion state")
	cmd.Flags().BoolVar(&required, "required", false, "required flag")
	return cmd
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <shipment-id> <task-id>",
		Short: "Flip task completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ToggleTask(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s: completed=%t\n", t.Title, t.Completed)
				return nil
			})
		},
	}
}

func taskRecipientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recipients <shipment-id> <task-id> [email...]",
		Short: "Replace the task's email recipients; no emails clears them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			emails := append([]string{}, args[2:]...)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], args[1], repo.TaskPatch{EmailRecipients: &emails}, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAttachCmd() *cobra.Command {
	var name, contentType string
	cmd := &cobra.Command{
		Use:   "attach <shipment-id> <task-id> <path>",
		Short: "Upload a file to a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[2])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AttachFile(ctx, engine.AttachFileOptions{
					ShipmentID:  args[0],
					TaskID:      args[1],
					Name:        name,
					ContentType: contentType,
					Body:        f,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Attached %s to %s\n", name, t.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name on the task (default: base name of path)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type")
	return cmd
}

func taskDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <shipment-id> <task-id> <name>",
		Short: "Remove a file from a task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DetachFile(ctx, args[0], args[1], args[2], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Removed %s from %s\n", args[2], t.Title)
				return nil
			})
		},
	}
}

func taskURLCmd() *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "url <shipment-id> <task-id> <name>",
		Short: "Print a download link for a task file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				url, direct, err := e.FileURL(ctx, args[0], args[1], args[2], expiry)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"url": url, "direct": direct})
				}
				fmt.Println(url)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "presigned link lifetime")
	return cmd
}

func taskSendCmd() *cobra.Command {
	var to []string
	cmd := &cobra.Command{
		Use:   "send <shipment-id> <task-id> <name>",
		Short: "Email a task file (default recipients: the task's list)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.SendTaskFile(ctx, engine.SendFileOptions{
					ShipmentID: args[0],
					TaskID:     args[1],
					FileName:   args[2],
					Emails:     to,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("shipment %s not found", args[0])
				}
				fmt.Printf("Sent %s\n", args[2])
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient emails")
	return cmd
}

func agentCmd() *cobra.Command {
	var a domain.Agent
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Repo.AddAgent(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&a.ID, "id", "", "id (default: generated)")
	add.Flags().StringVar(&a.Name, "name", "", "name")
	add.Flags().StringVar(&a.Company, "company", "", "company")
	add.Flags().StringVar(&a.Email, "email", "", "email")
	add.Flags().StringVar(&a.Phone, "phone", "", "phone")
	add.Flags().StringVar(&a.Country, "country", "", "country")
	_ = add.MarkFlagRequired("name")
	list := listCmd("List agents", func(ctx context.Context, e engine.Engine) (any, table.Row, []table.Row, error) {
		items, err := e.Repo.ListAgents(ctx)
		rows := make([]table.Row, 0, len(items))
		for _, a := range items {
			rows = append(rows, table.Row{a.ID, a.Name, a.Company, a.Country, len(a.ShipmentIDs)})
		}
		return items, table.Row{"ID", "Name", "Company", "Country", "Shipments"}, rows, err
	})
	return directoryCmd("agent", "Manage shipping agents", add, list)
}

func horseCmd() *cobra.Command {
	var h domain.Horse
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a horse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Repo.AddHorse(ctx, h)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&h.ID, "id", "", "id (default: generated)")
	add.Flags().StringVar(&h.Name, "name", "", "name")
	add.Flags().StringVar(&h.Breed, "breed", "", "breed")
	add.Flags().StringVar(&h.Passport, "passport", "", "passport number")
	add.Flags().StringVar(&h.OwnerID, "owner-id", "", "owner id")
	_ = add.MarkFlagRequired("name")
	list := listCmd("List horses", func(ctx context.Context, e engine.Engine) (any, table.Row, []table.Row, error) {
		items, err := e.Repo.ListHorses(ctx)
		rows := make([]table.Row, 0, len(items))
		for _, h := range items {
			rows = append(rows, table.Row{h.ID, h.Name, h.Breed, h.OwnerID, len(h.ShipmentIDs)})
		}
		return items, table.Row{"ID", "Name", "Breed", "Owner", "Shipments"}, rows, err
	})
	return directoryCmd("horse", "Manage horses", add, list)
}

func ownerCmd() *cobra.Command {
	var o domain.Owner
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Repo.AddOwner(ctx, o)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&o.ID, "id", "", "id (default: generated)")
	add.Flags().StringVar(&o.Name, "name", "", "name")
	add.Flags().StringVar(&o.Email, "email", "", "email")
	add.Flags().StringVar(&o.Phone, "phone", "", "phone")
	_ = add.MarkFlagRequired("name")
	list := listCmd("List owners", func(ctx context.Context, e engine.Engine) (any, table.Row, []table.Row, error) {
		items, err := e.Repo.ListOwners(ctx)
		rows := make([]table.Row, 0, len(items))
		for _, o := range items {
			rows = append(rows, table.Row{o.ID, o.Name, o.Email, len(o.ShipmentIDs)})
		}
		return items, table.Row{"ID", "Name", "Email", "Shipments"}, rows, err
	})
	return directoryCmd("owner", "Manage owners", add, list)
}

func customerCmd() *cobra.Command {
	var c domain.Customer
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Repo.AddCustomer(ctx, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&c.ID, "id", "", "id (default: generated)")
	add.Flags().StringVar(&c.Name, "name", "", "name")
	add.Flags().StringVar(&c.Email, "email", "", "email")
	add.Flags().StringVar(&c.Phone, "phone", "", "phone")
	add.Flags().IntVar(&c.LoyaltyPoints, "points", 0, "opening loyalty balance")
	_ = add.MarkFlagRequired("name")
	list := listCmd("List customers", func(ctx context.Context, e engine.Engine) (any, table.Row, []table.Row, error) {
		items, err := e.Repo.ListCustomers(ctx)
		rows := make([]table.Row, 0, len(items))
		for _, c := range items {
			rows = append(rows, table.Row{c.ID, c.Name, c.Email, c.LoyaltyPoints, len(c.ShipmentIDs)})
		}
		return items, table.Row{"ID", "Name", "Email", "Points", "Shipments"}, rows, err
	})
	var shipmentID string
	award := &cobra.Command{
		Use:   "award <customer-id> <points>",
		Short: "Award loyalty points; negative values redeem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("points must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Repo.AwardLoyalty(ctx, args[0], shipmentID, points)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	award.Flags().StringVar(&shipmentID, "shipment", "", "link the award to a shipment")
	cmd := directoryCmd("customer", "Manage customers", add, list)
	cmd.AddCommand(award)
	return cmd
}

// directoryCmd groups add, list and shipments under one entity kind.
func directoryCmd(kind, short string, add, list *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{Use: kind, Short: short}
	cmd.AddCommand(add, list)
	cmd.AddCommand(&cobra.Command{
		Use:   "shipments <id>",
		Short: "List shipments linked to the " + kind,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, err := repo.ParseEntityKind(kind)
				if err != nil {
					return err
				}
				items, err := e.Repo.GetEntityShipments(ctx, k, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printShipments(items)
				return nil
			})
		},
	})
	return cmd
}

func listCmd(short string, fetch func(context.Context, engine.Engine) (any, table.Row, []table.Row, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, header, rows, err := fetch(ctx, e)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(header)
				tw.AppendRows(rows)
				tw.Render()
				return nil
			})
		},
	}
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Handle customer shipment requests"}
	cmd.AddCommand(requestSubmitCmd())
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestStatusCmd())
	cmd.AddCommand(requestConvertCmd())
	return cmd
}

func requestSubmitCmd() *cobra.Command {
	var req domain.ShipmentRequest
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a customer request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := e.Repo.SaveShipmentRequest(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": id})
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.CustomerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&req.Email, "email", "", "customer email")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&req.Type, "type", "", "Import, Export or In-Transit")
	cmd.Flags().StringVar(&req.OriginCountry, "origin-country", "", "origin country")
	cmd.Flags().StringVar(&req.DestinationCountry, "destination-country", "", "destination country")
	cmd.Flags().StringVar(&req.AnimalType, "animal-type", "", "animal type")
	cmd.Flags().IntVar(&req.NumAnimals, "animals", 0, "number of animals")
	cmd.Flags().StringVar(&req.PreferredDate, "date", "", "preferred date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListShipmentRequests(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Customer", "Type", "Animals", "Preferred", "Status", "Shipment"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.CustomerName, r.Type, r.NumAnimals, r.PreferredDate, r.Status, r.ShipmentID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new, reviewed, converted or declined")
	return cmd
}

func requestStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id> <status>",
		Short: "Mark a request reviewed or declined",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] == domain.RequestConverted {
				return fmt.Errorf("use 'sl request convert' to convert a request")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.UpdateShipmentRequestStatus(ctx, args[0], args[1], "")
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func requestConvertCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "convert <request-id>",
		Short: "Book a shipment from a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ConvertRequest(ctx, args[0], engine.RequestConvertOptions{Date: date, ActorID: actorID()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Booked %s for %s (%d loyalty points)\n", res.Shipment.ShipmentNumber, res.Customer.Name, res.Customer.LoyaltyPoints)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "shipment date (default: preferred date)")
	return cmd
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Inspect and override task templates"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List shipment types with a stored override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Templates.Overrides(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <type>",
		Short: "Show the templates a new shipment of the type gets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.Templates.Templates(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable(table.Row{"Title", "Category", "Required", "Days before"})
				for _, t := range list {
					tw.AppendRow(table.Row{t.Title, t.Category, checkMark(t.Required), t.DaysBefore})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yml>",
		Short: "Store overrides from a YAML file keyed by shipment type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			overrides, err := templates.ParseOverrides(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for typ, list := range overrides {
					if err := e.Templates.SetOverride(ctx, typ, list); err != nil {
						return fmt.Errorf("%s: %w", typ, err)
					}
					fmt.Printf("%s: %d templates\n", typ, len(list))
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <type>",
		Short: "Drop the override and go back to the built-in templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Templates.Reset(ctx, args[0])
			})
		},
	})
	return cmd
}

func numberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "number", Short: "Inspect shipment numbering"}
	cmd.AddCommand(&cobra.Command{
		Use:   "peek <type>",
		Short: "Show the next number without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				next, err := e.Numbers.Peek(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(next)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "counters",
		Short: "Show the last issued number per type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Numbers.Counters(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restart every type's numbering at 001",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !viper.GetBool("force") {
				return fmt.Errorf("reset reuses numbers already issued; rerun with --force")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Numbers.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Counters reset")
				return nil
			})
		},
	})
	return cmd
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Summarise shipments, tasks and loyalty tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.Repo.Document(ctx)
				if err != nil {
					return err
				}
				sum := analytics.Summarize(doc, time.Now())
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := newTable(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"Shipments", sum.Shipments},
					{"Animals", sum.Animals},
					{"Tasks", fmt.Sprintf("%d (%.0f%% done)", sum.Tasks, sum.CompletionRatio*100)},
					{"Overdue tasks", sum.OverdueTasks},
					{"Open requests", sum.OpenRequests},
				})
				for _, typ := range []string{domain.TypeImport, domain.TypeExport, domain.TypeInTransit} {
					tw.AppendRow(table.Row{typ, sum.ByType[typ]})
				}
				tw.Render()
				if len(sum.TopCustomers) > 0 {
					top := newTable(table.Row{"Customer", "Points", "Tier"})
					for _, c := range sum.TopCustomers {
						top.AppendRow(table.Row{c.Name, c.Points, c.Tier})
					}
					top.Render()
				}
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var opts engine.DemoOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace all data with a reproducible demo set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !viper.GetBool("force") {
				return fmt.Errorf("seed replaces every shipment and directory entry; rerun with --force")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := e.SeedDemo(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(doc)
				}
				fmt.Printf("Seeded %d shipments, %d agents, %d customers (seed %d)\n", len(doc.Shipments), len(doc.Agents), len(doc.Customers), opts.Seed)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed for task completion")
	cmd.Flags().IntVar(&opts.Shipments, "shipments", 6, "number of demo shipments")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configUseStoreCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default shipline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate shipline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func configUseStoreCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "use-store <driver>",
		Short: "Persist a store driver override in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := envPath(viper.GetString("workspace"))
			if err := setEnvValue(path, "SHIPLINE_STORE_DRIVER", args[0]); err != nil {
				return err
			}
			if dsn != "" {
				if err := setEnvValue(path, "SHIPLINE_STORE_DSN", dsn); err != nil {
					return err
				}
			}
			fmt.Printf("Store driver set to %s in %s\n", args[0], path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "connection string or database path")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			cfg := svc.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			if cfg.Auth.JWTSecret == "" {
				svc.Logger.Warn("authentication disabled; set SHIPLINE_JWT_SECRET to require bearer tokens")
			}
			handler, err := server.New(server.Config{
				Engine:        svc.Engine,
				BasePath:      basePath,
				Auth:          server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, DevLogin: cfg.Auth.DevLogin, Logger: svc.Logger.Named("auth")},
				FileURLExpiry: cfg.Server.FileURLExpiry,
				Metrics:       svc.Metrics,
				Logger:        svc.Logger.Named("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			svc.Logger.Info("serving shipline api",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("store", cfg.Store.Driver))
			fmt.Printf("Serving Shipline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default: server.base_path)")
	return cmd
}

func printShipments(items []domain.Shipment) {
	tw := newTable(table.Row{"Number", "ID", "Type", "Status", "Date", "Route", "Animals", "Tasks"})
	for _, s := range items {
		done := 0
		for _, t := range s.Tasks {
			if t.Completed {
				done++
			}
		}
		route := strings.Trim(s.OriginCountry+" → "+s.DestinationCountry, " →")
		tw.AppendRow(table.Row{s.ShipmentNumber, s.ID, s.Type, s.Status, s.Date, route, s.TotalAnimals(), fmt.Sprintf("%d/%d", done, len(s.Tasks))})
	}
	tw.Render()
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func checkMark(b bool) string {
	if b {
		return "x"
	}
	return ""
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
