package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AxisFlow/pkg/axisflow"
)

func main() {
	flow, err := axisflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(rec axisflow.Record) error {
		for _, s := range rec.Samples() {
			fmt.Printf("%s machine=%s axis=%s offset=%.3f feedrate=%d tool=%d\n",
				s.Timestamp.Format(time.RFC3339Nano),
				s.MachineID,
				s.Axis,
				s.ToolOffset,
				s.Feedrate,
				s.ToolInUse,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, axisflow.StreamOutCallback("M00000001", callback)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}
