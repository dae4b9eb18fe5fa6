package procflow_test

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/petrijr/procflow"
)

// Example_processTypeBuilder demonstrates defining a process type with the
// builder and driving one process to completion on an in-memory engine.
func Example_processTypeBuilder() {
	ctx := context.Background()

	greeting := procflow.New("GREETING").
		Initial("SAY_HELLO").
		Step("SAY_HELLO", func(ctx context.Context, id uuid.UUID) (procflow.StepResult, error) {
			fmt.Println("hello")
			return procflow.Done("SAY_GOODBYE"), nil
		}).
		Step("SAY_GOODBYE", func(ctx context.Context, id uuid.UUID) (procflow.StepResult, error) {
			fmt.Println("goodbye")
			return procflow.Done(), nil
		})

	eng, err := procflow.NewInMemoryEngine(greeting.Build())
	if err != nil {
		log.Fatal(err)
	}

	p, err := eng.StartProcess(ctx, greeting.ProcessTypeID())
	if err != nil {
		log.Fatal(err)
	}
	if err := eng.ExecuteProcess(ctx, p.ID); err != nil {
		log.Fatal(err)
	}

	details, err := eng.GetProcess(ctx, p.ID)
	if err != nil {
		log.Fatal(err)
	}
	for _, st := range details.Steps {
		fmt.Println(st.StepTypeID, st.Status)
	}

	// Output:
	// hello
	// goodbye
	// SAY_HELLO DONE
	// SAY_GOODBYE DONE
}

// Example_externalCallback demonstrates a step that hands off to an
// external system and is resumed by a callback.
func Example_externalCallback() {
	ctx := context.Background()

	signup := procflow.New("SIGNUP").
		Initial("SEND_MAIL").
		LockedStep("SEND_MAIL", func(ctx context.Context, id uuid.UUID) (procflow.StepResult, error) {
			return procflow.Done("AWAIT_CONFIRMATION"), nil
		}).
		Step("ACTIVATE", func(ctx context.Context, id uuid.UUID) (procflow.StepResult, error) {
			return procflow.Done(), nil
		})

	eng, err := procflow.NewInMemoryEngine(signup.Build())
	if err != nil {
		log.Fatal(err)
	}

	p, _ := eng.StartProcess(ctx, "SIGNUP")
	_ = eng.ExecuteProcess(ctx, p.ID)

	n, _ := eng.Poll(ctx)
	fmt.Println("runnable before callback:", n)

	if err := eng.Complete(ctx, p.ID, "AWAIT_CONFIRMATION", "ACTIVATE"); err != nil {
		log.Fatal(err)
	}
	n, _ = eng.Poll(ctx)
	fmt.Println("runnable after callback:", n)

	details, _ := eng.GetProcess(ctx, p.ID)
	for _, st := range details.Steps {
		fmt.Println(st.StepTypeID, st.Status)
	}

	// Output:
	// runnable before callback: 0
	// runnable after callback: 1
	// SEND_MAIL DONE
	// AWAIT_CONFIRMATION DONE
	// ACTIVATE DONE
}
