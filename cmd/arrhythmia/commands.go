package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/emulator"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/grpcapi"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/mcptools"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/seed"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.InitLogger()
			cfg := config.Load()

			db, err := database.Connect(cfg.Database, cfg.Server.Env)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return err
			}
			slog.Info("Migrations applied")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var (
		patients int
		beats    int
		rngSeed  int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo patients with labelled heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.InitLogger()
			cfg := config.Load()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.Run(cmd.Context(), a.db, a.vocab, seed.Options{
				Patients:        patients,
				BeatsPerPatient: beats,
				Width:           cfg.ML.FeatureWidth,
				Seed:            rngSeed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patients with %d heartbeats.\n", res.Patients, res.Heartbeats)
			return nil
		},
	}
	cmd.Flags().IntVar(&patients, "patients", 10, "number of patients")
	cmd.Flags().IntVar(&beats, "heartbeats", 100, "heartbeats per patient")
	cmd.Flags().Int64Var(&rngSeed, "seed", 42, "random seed")
	return cmd
}

func newRetrainCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Train a new model version on all labelled heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.InitLogger()
			cfg := config.Load()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.trainer.Retrain(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trained %s (version %s) on %d rows, %d skipped.\n",
				res.ModelName, res.Version, res.TrainedRows, res.SkippedRows)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id recorded with the model version")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout занят протоколом
			config.InitLoggerTo(os.Stderr)
			database.SetLogOutput(os.Stderr)
			cfg := config.Load()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcptools.New(a.patients, a.models, a.journal)
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

func newEmulateCmd() *cobra.Command {
	var (
		file     string
		record   string
		interval time.Duration
		loop     bool
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Replay a heartbeat CSV to the MQTT broker as an ECG monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.InitLogger()
			cfg := config.Load()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			pub, err := emulator.NewMQTTPublisher(cfg.MQTT)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := emulator.Play(ctx, f, pub, emulator.Options{
				Width:    cfg.ML.FeatureWidth,
				Record:   record,
				Interval: interval,
				Loop:     loop,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d heartbeats, %d failed, %d rows skipped.\n",
				stats.Sent, stats.Failed, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV with heartbeat features")
	cmd.Flags().StringVar(&record, "record", "", "record id for rows without a record column")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "pause between heartbeats")
	cmd.Flags().BoolVar(&loop, "loop", false, "replay the file until interrupted")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newHealthcheckCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health service of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = net.JoinHostPort("localhost", config.Load().GRPC.Port)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := grpcapi.CheckHealth(ctx, addr, grpcapi.ServiceName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %s is %s", grpcapi.ServiceName, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address, defaults to localhost:$GRPC_PORT")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
