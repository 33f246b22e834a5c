package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/bootstrap"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/config"
	"github.com/hackgods/appointment-ledger/internal/logger"
)

// ledgerctl operates directly on the configured store, taking the same
// locks as the api-server.
type app struct {
	stack *bootstrap.Stack
	log   *zap.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and change the appointment ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	rootCmd.AddCommand(
		a.scheduleCmd(),
		a.rescheduleCmd(),
		a.cancelCmd(),
		a.respondCmd(),
		a.outcomeCmd(),
		a.prescriptionCmd(),
		a.listCmd(),
		a.availableCmd(),
		a.blockCmd(true),
		a.blockCmd(false),
		a.removeCmd(),
		a.pruneCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = a.close()
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// keep command output clean unless asked otherwise
	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	a.log, err = logger.New(level, cfg.LogFormat)
	if err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	a.stack, err = bootstrap.Open(openCtx, cfg, a.log, nil)
	return err
}

func (a *app) close() error {
	if a.stack == nil {
		return nil
	}
	err := a.stack.Close()
	a.stack = nil
	_ = a.log.Sync()
	return err
}

func (a *app) ledger() *appointment.Ledger {
	return a.stack.Ledger
}

func parseSlotArgs(rawDate, rawTime string) (calendar.Date, calendar.Clock, error) {
	date, err := calendar.ParseDate(rawDate)
	if err != nil {
		return calendar.Date{}, calendar.Clock{}, err
	}
	at, err := calendar.ParseClock(rawTime)
	if err != nil {
		return calendar.Date{}, calendar.Clock{}, err
	}
	return date, at, nil
}

func printRecords(records ...appointment.Record) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATIENT\tPROVIDER\tDATE\tTIME\tSTATUS\tSERVICE\tPRESCRIPTION")
	for _, r := range records {
		service, prescription := "", ""
		if r.Outcome != nil {
			service, prescription = r.Outcome.ServiceType, r.Outcome.PrescriptionStatus
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.PatientID, r.ProviderID, r.Date, r.Time, r.Status, service, prescription)
	}
	_ = w.Flush()
}

func (a *app) scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Book a new appointment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetInt("patient")
			provider, _ := cmd.Flags().GetString("provider")
			rawDate, _ := cmd.Flags().GetString("date")
			rawTime, _ := cmd.Flags().GetString("time")

			date, at, err := parseSlotArgs(rawDate, rawTime)
			if err != nil {
				return err
			}
			rec, err := a.ledger().Schedule(cmd.Context(), patient, provider, date, at)
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
	cmd.Flags().Int("patient", 0, "Patient ID")
	cmd.Flags().String("provider", "", "Provider ID")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().String("time", "", "Start time (HH:MM)")
	for _, f := range []string{"patient", "provider", "date", "time"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *app) rescheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an appointment to another slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawDate, _ := cmd.Flags().GetString("date")
			rawTime, _ := cmd.Flags().GetString("time")

			date, at, err := parseSlotArgs(rawDate, rawTime)
			if err != nil {
				return err
			}
			rec, err := a.ledger().Reschedule(cmd.Context(), args[0], date, at)
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
	cmd.Flags().String("date", "", "New date (YYYY-MM-DD)")
	cmd.Flags().String("time", "", "New start time (HH:MM)")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.ledger().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
}

func (a *app) respondCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "respond <id> accept|reject",
		Short:     "Confirm or reject a scheduled appointment",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"accept", "reject"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var accept bool
			switch strings.ToLower(args[1]) {
			case "accept", "confirm":
				accept = true
			case "reject", "decline":
			default:
				return fmt.Errorf("answer must be accept or reject, got %q", args[1])
			}
			rec, err := a.ledger().Respond(cmd.Context(), args[0], accept)
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
}

// parseMedicines reads name=quantity pairs.
func parseMedicines(raw []string) ([]appointment.Medicine, error) {
	var out []appointment.Medicine
	for _, item := range raw {
		name, qty, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("medicine %q must be name=quantity", item)
		}
		n, err := strconv.Atoi(qty)
		if err != nil {
			return nil, fmt.Errorf("medicine %q: invalid quantity", item)
		}
		out = append(out, appointment.Medicine{Name: strings.TrimSpace(name), Quantity: n})
	}
	return out, nil
}

func (a *app) outcomeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome <id>",
		Short: "Record the outcome of a confirmed or completed appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _ := cmd.Flags().GetString("service")
			notes, _ := cmd.Flags().GetString("notes")
			rawMeds, _ := cmd.Flags().GetStringArray("medicine")
			prescription, _ := cmd.Flags().GetString("prescription")

			medicines, err := parseMedicines(rawMeds)
			if err != nil {
				return err
			}
			rec, err := a.ledger().RecordOutcome(cmd.Context(), args[0], appointment.Outcome{
				ServiceType:        service,
				Notes:              notes,
				Medicines:          medicines,
				PrescriptionStatus: prescription,
			})
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
	cmd.Flags().String("service", "", "Service type provided")
	cmd.Flags().String("notes", "", "Clinical notes")
	cmd.Flags().StringArray("medicine", nil, "Prescribed medicine as name=quantity (repeatable)")
	cmd.Flags().String("prescription", "Pending", "Prescription status")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func (a *app) prescriptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prescription <id> <status>",
		Short: "Update the prescription status of a completed appointment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.ledger().UpdatePrescriptionStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printRecords(rec)
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments by patient or provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetInt("patient")
			provider, _ := cmd.Flags().GetString("provider")
			upcoming, _ := cmd.Flags().GetBool("upcoming")

			ctx := cmd.Context()
			switch {
			case patient > 0:
				printRecords(a.ledger().ListByPatient(ctx, patient)...)
			case provider != "" && upcoming:
				printRecords(a.ledger().ListUpcomingByProvider(ctx, provider)...)
			case provider != "":
				printRecords(a.ledger().ListByProvider(ctx, provider)...)
			default:
				printRecords(a.ledger().All(ctx)...)
			}
			return nil
		},
	}
	cmd.Flags().Int("patient", 0, "Only this patient's appointments")
	cmd.Flags().String("provider", "", "Only this provider's appointments")
	cmd.Flags().Bool("upcoming", false, "With --provider, only active appointments from today on")
	cmd.MarkFlagsMutuallyExclusive("patient", "provider")
	return cmd
}

func (a *app) availableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "available <provider> <date>",
		Short: "Show a provider's slot grid for a day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := calendar.ParseDate(args[1])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tEND\tSTATUS")
			for _, s := range a.ledger().AvailableSlots(cmd.Context(), args[0], date) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Start, s.End, s.Status)
			}
			return w.Flush()
		},
	}
}

func (a *app) blockCmd(block bool) *cobra.Command {
	use, short := "block", "Mark a slot unavailable"
	if !block {
		use, short = "unblock", "Lift a slot block"
	}
	return &cobra.Command{
		Use:   use + " <provider> <date> <time>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, at, err := parseSlotArgs(args[1], args[2])
			if err != nil {
				return err
			}
			if block {
				return a.ledger().BlockSlot(cmd.Context(), args[0], date, at)
			}
			return a.ledger().UnblockSlot(cmd.Context(), args[0], date, at)
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an appointment record from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ledger().RemoveRecord(cmd.Context(), args[0])
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop slot holds for past days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("before")
			before := calendar.DateOf(time.Now())
			if raw != "" {
				d, err := calendar.ParseDate(raw)
				if err != nil {
					return err
				}
				before = d
			}
			n, err := a.ledger().PruneHolds(cmd.Context(), before)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d holds before %s\n", n, before)
			return nil
		},
	}
	cmd.Flags().String("before", "", "Cutoff date (YYYY-MM-DD), defaults to today")
	return cmd
}
