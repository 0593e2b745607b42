package cluster

import (
	"github.com/najoast/praas/buffer"
	"github.com/najoast/praas/codec"
	"github.com/najoast/praas/core"
	"github.com/najoast/praas/network"
)

// Envelope type tags of the transport frames.
const (
	tagHello       = "praas.hello/v1"
	tagInvocation  = "praas.invocation/v1"
	tagResult      = "praas.result/v1"
	tagPut         = "praas.put/v1"
	tagApplication = "praas.application/v1"
	tagError       = "praas.error/v1"
)

type helloBody struct {
	Process core.ProcessID `json:"process" msgpack:"process"`
	Address string         `json:"address" msgpack:"address"`
}

type invocationBody struct {
	Key      string         `json:"key" msgpack:"key"`
	Function string         `json:"function" msgpack:"function"`
	Args     [][]byte       `json:"args" msgpack:"args"`
	Source   core.ProcessID `json:"source,omitempty" msgpack:"source,omitempty"`
}

// resultBody answers an invocation. Source is the caller, Process the
// process that ran it.
type resultBody struct {
	Key     string         `json:"key" msgpack:"key"`
	Source  core.ProcessID `json:"source,omitempty" msgpack:"source,omitempty"`
	Process core.ProcessID `json:"process" msgpack:"process"`
	Code    int            `json:"code" msgpack:"code"`
	Payload []byte         `json:"payload" msgpack:"payload"`
}

type putBody struct {
	Sender core.ProcessID `json:"sender" msgpack:"sender"`
	Key    string         `json:"key" msgpack:"key"`
	Data   []byte         `json:"data" msgpack:"data"`
}

type applicationBody struct {
	Active  []core.ProcessID `json:"active" msgpack:"active"`
	Swapped []core.ProcessID `json:"swapped" msgpack:"swapped"`
}

type errorBody struct {
	Key     string         `json:"key,omitempty" msgpack:"key,omitempty"`
	Source  core.ProcessID `json:"source,omitempty" msgpack:"source,omitempty"`
	Process core.ProcessID `json:"process,omitempty" msgpack:"process,omitempty"`
	Message string         `json:"message" msgpack:"message"`
}

// frameTags pairs frame kinds with the envelope tag their payload carries.
var frameTags = map[network.FrameKind]string{
	network.FrameHello:       tagHello,
	network.FrameInvoke:      tagInvocation,
	network.FrameResult:      tagResult,
	network.FramePut:         tagPut,
	network.FrameApplication: tagApplication,
	network.FrameError:       tagError,
}

// wireCodec turns transport bodies into frames and back.
type wireCodec struct {
	codec       codec.Codec
	compression codec.CompressionType
}

func (w wireCodec) frame(kind network.FrameKind, body interface{}) (*network.Frame, error) {
	payload, err := codec.Marshal(w.codec, frameTags[kind], body, codec.WithCompression(w.compression))
	if err != nil {
		return nil, err
	}
	return network.NewFrame(kind, payload), nil
}

func (w wireCodec) decode(f *network.Frame, body interface{}) error {
	return codec.Unmarshal(f.Payload, frameTags[f.Kind], body)
}

func invocationToBody(inv *core.Invocation) invocationBody {
	args := make([][]byte, len(inv.Args))
	for i, arg := range inv.Args {
		args[i] = arg.Readable()
	}
	return invocationBody{Key: inv.Key, Function: inv.FunctionName, Args: args, Source: inv.Source}
}

func (b invocationBody) invocation() *core.Invocation {
	args := make([]*buffer.Buffer, len(b.Args))
	for i, arg := range b.Args {
		args[i] = buffer.Wrap(arg)
	}
	return &core.Invocation{Key: b.Key, FunctionName: b.Function, Args: args, Source: b.Source}
}

func (b resultBody) call() callKey {
	return callKey{source: b.Source, target: b.Process, key: b.Key}
}

func (b resultBody) result() *core.InvocationResult {
	return &core.InvocationResult{Key: b.Key, ReturnCode: b.Code, Payload: buffer.Wrap(b.Payload)}
}

// copyInvocation detaches inv from buffers owned by the caller.
func copyInvocation(inv *core.Invocation) *core.Invocation {
	args := make([]*buffer.Buffer, len(inv.Args))
	for i, arg := range inv.Args {
		args[i] = buffer.Wrap(arg.Bytes())
	}
	return &core.Invocation{Key: inv.Key, FunctionName: inv.FunctionName, Args: args, Source: inv.Source}
}
