package core

import (
	"time"

	"github.com/najoast/praas/buffer"
)

// ProcessID identifies a worker process.
type ProcessID string

// Symbolic process selectors.
const (
	// Self names the local process.
	Self ProcessID = "<self>"

	// Any matches any sender. It is valid only as a mailbox read source.
	Any ProcessID = "<any>"
)

// IsSymbolic reports whether id is Self or Any.
func (id ProcessID) IsSymbolic() bool {
	return id == Self || id == Any
}

// Resolve maps Self to local and leaves every other id unchanged.
func (id ProcessID) Resolve(local ProcessID) ProcessID {
	if id == Self {
		return local
	}
	return id
}

// String returns the string representation of ProcessID.
func (id ProcessID) String() string {
	return string(id)
}

// Return codes with reserved meaning.
const (
	ReturnSuccess         = 0
	ReturnFailure         = 1
	ReturnUnknownFunction = -1
)

// Invocation is one request to execute a named function.
type Invocation struct {
	// Key correlates the invocation with its result.
	Key string

	// FunctionName selects the handler in the target's Registry.
	FunctionName string

	// Args are the argument buffers, in order.
	Args []*buffer.Buffer

	// Source is the process that issued the invocation. Empty for external clients.
	Source ProcessID
}

// Arg returns the i-th argument or an empty buffer when absent.
func (inv *Invocation) Arg(i int) *buffer.Buffer {
	if i < 0 || i >= len(inv.Args) {
		return buffer.Allocate(0)
	}
	return inv.Args[i]
}

// InvocationResult is the status and payload produced by an invocation.
type InvocationResult struct {
	Key        string
	ReturnCode int
	Payload    *buffer.Buffer
}

// Succeeded reports whether the return code signals success.
func (r *InvocationResult) Succeeded() bool {
	return r.ReturnCode == ReturnSuccess
}

// LoopState is a state of the invoker loop.
type LoopState uint8

const (
	// StateIdle means the loop is waiting on the transport
	StateIdle LoopState = iota

	// StateReceived means an invocation was obtained and its context scoped
	StateReceived

	// StateDispatched means the function name is being resolved
	StateDispatched

	// StateRunning means the handler executes
	StateRunning

	// StateCompleted means the handler returned zero
	StateCompleted

	// StateFailed means dispatch missed or the handler failed
	StateFailed

	// StateReported means the result was handed to the transport
	StateReported

	// StateStopped means the transport ended its stream
	StateStopped
)

// String returns the string representation of LoopState.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceived:
		return "received"
	case StateDispatched:
		return "dispatched"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateReported:
		return "reported"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MessageKind distinguishes what a poll delivered.
type MessageKind uint8

const (
	// MessageInvocation carries an Invocation to dispatch
	MessageInvocation MessageKind = iota

	// MessagePut carries a mailbox entry from another process
	MessagePut

	// MessageApplication carries a new application status
	MessageApplication
)

// String returns the string representation of MessageKind.
func (k MessageKind) String() string {
	switch k {
	case MessageInvocation:
		return "invocation"
	case MessagePut:
		return "put"
	case MessageApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Message is one item delivered by Transport.Poll.
type Message struct {
	Kind MessageKind

	// Invocation is set for MessageInvocation.
	Invocation *Invocation

	// Sender, Key and Data are set for MessagePut.
	Sender ProcessID
	Key    string
	Data   []byte

	// Application is set for MessageApplication.
	Application *ApplicationStatus
}

// ApplicationStatus lists the processes of the application the local process belongs to.
type ApplicationStatus struct {
	Active  []ProcessID
	Swapped []ProcessID
}

// Clone returns a deep copy.
func (s *ApplicationStatus) Clone() *ApplicationStatus {
	if s == nil {
		return &ApplicationStatus{}
	}
	return &ApplicationStatus{
		Active:  append([]ProcessID(nil), s.Active...),
		Swapped: append([]ProcessID(nil), s.Swapped...),
	}
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// OutputBufferSize is the capacity of the default output buffer
	OutputBufferSize int

	// MaxDepth bounds nested self-invocations; zero means unbounded
	MaxDepth int

	// MailboxKeys sizes the mailbox key filter; zero selects DefaultMailboxKeys
	MailboxKeys int
}

// DefaultOutputBufferSize is the default output capacity.
const DefaultOutputBufferSize = 5 * 1024 * 1024

// nestedOutputSize is the initial output capacity of a self-invocation.
const nestedOutputSize = 4 * 1024

// DefaultInvokerOptions returns sensible default options.
func DefaultInvokerOptions() InvokerOptions {
	return InvokerOptions{
		OutputBufferSize: DefaultOutputBufferSize,
	}
}

// InvokerStats contains runtime statistics for an Invoker.
type InvokerStats struct {
	// ID of the process
	ID ProcessID

	// Current loop state
	State LoopState

	// Invocations dispatched, including nested self-invocations
	Invocations uint64

	// Invocations that ended with a nonzero code
	Failures uint64

	// Dispatch misses
	UnknownFunctions uint64

	// Time of the last dispatch
	LastInvocationAt time.Time

	// Mailbox contents and filter counters
	Mailbox MailboxStats
}
