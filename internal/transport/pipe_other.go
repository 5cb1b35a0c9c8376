//go:build !windows

package transport

const pipeAvailable = false

func newPipeClient(pipeName string) (Client, error) {
	return nil, &UnsupportedTransportError{Type: TypePipe, Reason: "named pipes require Windows"}
}

func newPipeServer(pipeName string) (Server, error) {
	return nil, &UnsupportedTransportError{Type: TypePipe, Reason: "named pipes require Windows"}
}
