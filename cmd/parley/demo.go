package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run two workflow instances over a lossy in-memory bus",
	Long: `Runs a session between "alice" and "bob" over an in-memory bus that shuffles and
duplicates envelopes, and prints what each side receives.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		count, _ := cmd.Flags().GetInt("messages")
		dup, _ := cmd.Flags().GetFloat64("duplicate-rate")
		seed, _ := cmd.Flags().GetInt64("seed")

		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		bus := memory.NewBus(memory.WithShuffle(), memory.WithDuplicateRate(dup), memory.WithSeed(seed))

		newParty := func(id string) *parley.Party {
			p, err := parley.New(id,
				parley.WithTransport(bus),
				parley.WithLogger(a.logger),
				parley.WithEngineConfig(a.cfg.Engine),
				parley.WithFlowName("demo"),
				parley.WithLifecycleHooks(observability.LoggingHooks(a.logger)),
			)
			if err != nil {
				fmt.Printf("Error creating %s: %v\n", id, err)
				os.Exit(1)
			}
			return p
		}
		alice, bob := newParty("alice"), newParty("bob")

		if err := runDemo(cmd.Context(), alice, bob, count); err != nil {
			fmt.Printf("Demo failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func runDemo(ctx context.Context, alice, bob *parley.Party, count int) error {
	sessionID := "demo-" + uuid.NewString()[:8]
	responderID := domain.CounterpartySessionID(sessionID)

	if _, err := alice.Initiate(ctx, sessionID, bob.WorkflowID()); err != nil {
		return err
	}
	for i := 1; i <= count; i++ {
		msg := []byte(fmt.Sprintf("message %d", i))
		if _, err := alice.Send(ctx, map[string][]byte{sessionID: msg}); err != nil {
			return err
		}
	}
	if _, err := alice.Close(ctx, []string{sessionID}); err != nil {
		return err
	}

	for round := 1; round <= 1000; round++ {
		for _, p := range []*parley.Party{alice, bob} {
			if _, err := p.Flush(ctx); err != nil {
				return err
			}
			if _, err := p.Poll(ctx, 0); err != nil {
				return err
			}
		}

		events, err := bob.Receive(ctx, responderID)
		if err != nil {
			return err
		}
		for _, re := range events {
			fmt.Printf("bob   <- %s\n", describe(re.Event))
			if re.Event.Kind() == domain.KindClose {
				if _, err := bob.Close(ctx, []string{responderID}); err != nil {
					return err
				}
			}
		}
		if events, err = alice.Receive(ctx, sessionID); err != nil {
			return err
		}
		for _, re := range events {
			fmt.Printf("alice <- %s\n", describe(re.Event))
		}

		aliceDone, err := alice.AreAllSessionsInStatuses(ctx, []string{sessionID}, domain.StatusClosed)
		if err != nil {
			return err
		}
		bobDone, err := bob.AreAllSessionsInStatuses(ctx, []string{responderID}, domain.StatusClosed)
		if err != nil {
			return err
		}
		if aliceDone && bobDone {
			fmt.Printf("Session %s closed on both sides after %d rounds\n", sessionID, round)
			// hand out acks for late duplicates so the session can be removed
			if _, err := alice.Flush(ctx); err != nil {
				return err
			}
			_, err := alice.Cleanup(ctx, []string{sessionID})
			return err
		}
	}
	return fmt.Errorf("session %s did not close", sessionID)
}

func describe(ev domain.SessionEvent) string {
	switch p := ev.Payload.(type) {
	case domain.Init:
		return fmt.Sprintf("#%d INIT flow=%s", ev.Seq(), p.FlowName)
	case domain.Data:
		return fmt.Sprintf("#%d DATA %q", ev.Seq(), p.Bytes)
	default:
		return fmt.Sprintf("#%d %s", ev.Seq(), ev.Kind())
	}
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntP("messages", "n", 5, "Number of data messages alice sends")
	demoCmd.Flags().Float64("duplicate-rate", 0.3, "Probability that the bus delivers an envelope twice")
	demoCmd.Flags().Int64("seed", 0, "Bus random seed (0: time based)")
}
