package sandbox

import "net"

// allocatePort binds to port 0 on loopback, reads back the kernel-assigned
// port, and releases the listener. The caller must bind the returned port
// into the sandbox promptly; a race against another allocator remains
// possible but is the same trade-off the teacher's adapters accept for
// ephemeral local ports (spec §4.4: "binding to port 0 and reading back
// the kernel-assigned port").
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
