package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	connectionPromptFormat  = "Allow MetaLinked to use account %s? [y/N]: "
	transactionPromptFormat = "Send profile transaction from %s to %s with gas limit %d? [y/N]: "
)

// Approver asks the operator to confirm wallet actions.
type Approver interface {
	ApproveConnection(ctx context.Context, account portal.Account) (bool, error)
	ApproveTransaction(ctx context.Context, from portal.Account, transaction *types.Transaction) (bool, error)
}

// AutoApprover approves every request. It backs unattended deployments.
type AutoApprover struct{}

// ApproveConnection always approves.
func (AutoApprover) ApproveConnection(context.Context, portal.Account) (bool, error) {
	return true, nil
}

// ApproveTransaction always approves.
func (AutoApprover) ApproveTransaction(context.Context, portal.Account, *types.Transaction) (bool, error) {
	return true, nil
}

// TerminalApprover prompts on output and reads a y/n answer from input.
// A prompt already waiting on input is not interrupted by ctx: the call returns
// only once a line is read or input is closed.
type TerminalApprover struct {
	mutex  sync.Mutex
	input  *bufio.Reader
	output io.Writer
}

// NewTerminalApprover builds a prompt-driven approver.
func NewTerminalApprover(input io.Reader, output io.Writer) *TerminalApprover {
	return &TerminalApprover{input: bufio.NewReader(input), output: output}
}

// ApproveConnection asks whether account may be used by the portal.
func (approver *TerminalApprover) ApproveConnection(ctx context.Context, account portal.Account) (bool, error) {
	return approver.ask(ctx, fmt.Sprintf(connectionPromptFormat, account))
}

// ApproveTransaction asks whether the signed write may be sent.
func (approver *TerminalApprover) ApproveTransaction(ctx context.Context, from portal.Account, transaction *types.Transaction) (bool, error) {
	destination := ""
	if transaction.To() != nil {
		destination = transaction.To().Hex()
	}
	return approver.ask(ctx, fmt.Sprintf(transactionPromptFormat, from, destination, transaction.Gas()))
}

func (approver *TerminalApprover) ask(ctx context.Context, prompt string) (bool, error) {
	approver.mutex.Lock()
	defer approver.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := io.WriteString(approver.output, prompt); err != nil {
		return false, err
	}
	answer, err := approver.input.ReadString('\n')
	if err != nil && answer == "" {
		// closed input declines
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
