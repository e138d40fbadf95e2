package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"checkpool/internal/pool"
	"checkpool/internal/trace"
)

type traceFlags struct {
	output    string
	level     string
	mode      string
	format    string
	ringSize  int
	heartbeat time.Duration
}

func registerTraceFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("trace", "", "trace output file (\"-\" for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "stream", "trace storage (stream|ring)")
	pf.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	pf.Int("trace-ring-size", 4096, "events kept in ring mode")
	pf.Duration("trace-heartbeat", 0, "heartbeat interval (0 disables)")
}

func readTraceFlags(cmd *cobra.Command) (traceFlags, error) {
	pf := cmd.Root().PersistentFlags()
	var tf traceFlags
	var err error
	if tf.output, err = pf.GetString("trace"); err != nil {
		return tf, fmt.Errorf("failed to get trace flag: %w", err)
	}
	if tf.level, err = pf.GetString("trace-level"); err != nil {
		return tf, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	if tf.mode, err = pf.GetString("trace-mode"); err != nil {
		return tf, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	if tf.format, err = pf.GetString("trace-format"); err != nil {
		return tf, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	if tf.ringSize, err = pf.GetInt("trace-ring-size"); err != nil {
		return tf, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	if tf.heartbeat, err = pf.GetDuration("trace-heartbeat"); err != nil {
		return tf, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}
	return tf, nil
}

// workerArgs forwards tracing to worker processes. Their stdout carries RPC,
// so any trace output goes to stderr.
func (tf traceFlags) workerArgs() []string {
	if tf.level == "" || tf.level == "off" {
		return nil
	}
	return []string{
		"--trace", "-",
		"--trace-level", tf.level,
		"--trace-format", tf.format,
		"--trace-ring-size", strconv.Itoa(tf.ringSize),
	}
}

// procName labels trace events: "orch" for the orchestrator, "w<i>" for a
// spawned worker.
func procName() string {
	if idx := os.Getenv(pool.EnvWorkerIndex); idx != "" {
		return "w" + idx
	}
	return "orch"
}

// setupTracing inspects trace-related flags and initializes the tracer.
// It returns a cleanup function and an error if initialization fails.
func setupTracing(cmd *cobra.Command) (func(), error) {
	tf, err := readTraceFlags(cmd)
	if err != nil {
		return nil, err
	}

	level, err := trace.ParseLevel(tf.level)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	mode, err := trace.ParseMode(tf.mode)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	format, err := trace.ParseFormat(tf.format)
	if err != nil {
		return nil, fmt.Errorf("invalid trace format: %w", err)
	}
	output := tf.output
	if output == "" {
		output = "-"
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: output,
		RingSize:   tf.ringSize,
		Heartbeat:  tf.heartbeat,
		Proc:       procName(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	stopHeartbeat := trace.StartHeartbeat(tracer, tf.heartbeat)

	cleanup := func() {
		stopHeartbeat()
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}
