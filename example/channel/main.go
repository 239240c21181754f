package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AxisFlow"
)

func main() {
	flow, err := axisflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, records, closeRecords := axisflow.NewChannelSubscriber(32)
	defer closeRecords()

	go fanoutWorker("M00000002", records)

	if err := flow.Run(ctx, axisflow.StreamOutSubscriber("M00000002", sub)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, records <-chan axisflow.Record) {
	for rec := range records {
		fmt.Printf("[%s] %d axes at %s\n", name, len(rec.Axes), rec.Timestamp.Format(time.RFC3339))
	}
}
