// Package diskctl is a small local admin control channel for a live
// ucsdpsys_mount process: a net/rpc service on a unix socket next to
// the mountpoint, so stats and housekeeping can be requested from a
// second process without unmounting.
package diskctl

import (
	"context"
	"net"
	"net/rpc"
	"os"

	"golang.org/x/xerrors"

	"github.com/ucsdpsys/ucsdpsys-go/internal/volume"
)

// Mount is the subset of fusefs.FS that diskctl needs; named here
// instead of importing internal/fusefs so the two packages don't
// depend on each other's internals beyond this contract.
type Mount interface {
	Stats() volume.Statfs
	Crunch() (int, error)
}

// PingArgs/PingReply, StatsArgs/StatsReply and CrunchArgs/CrunchReply
// follow net/rpc's request/reply convention: an empty request, a small
// reply.
type PingArgs struct{}
type PingReply struct{}

type StatsArgs struct{}
type StatsReply struct {
	Stats volume.Statfs
}

type CrunchArgs struct{}
type CrunchReply struct {
	BlocksFreed int
}

// service is the net/rpc receiver registered on the control socket.
type service struct {
	mount Mount
}

func (s *service) Ping(args *PingArgs, reply *PingReply) error {
	*reply = PingReply{}
	return nil
}

func (s *service) Stats(args *StatsArgs, reply *StatsReply) error {
	reply.Stats = s.mount.Stats()
	return nil
}

func (s *service) Crunch(args *CrunchArgs, reply *CrunchReply) error {
	freed, err := s.mount.Crunch()
	if err != nil {
		return err
	}
	reply.BlocksFreed = freed
	return nil
}

// Serve registers mount's Ping/Stats/Crunch calls on a unix socket at
// socketPath and accepts connections until ctx is done. The socket file
// is removed both before binding (stale socket from a prior crash) and
// on return.
func Serve(ctx context.Context, socketPath string, mount Mount) error {
	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return xerrors.Errorf("diskctl: listening on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	srv := rpc.NewServer()
	if err := srv.RegisterName("Disk", &service{mount: mount}); err != nil {
		return xerrors.Errorf("diskctl: registering service: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return xerrors.Errorf("diskctl: accept: %w", err)
			}
		}
		go srv.ServeConn(conn)
	}
}

// Client dials an already-running ucsdpsys_mount's control socket.
type Client struct {
	rpc *rpc.Client
}

func Dial(socketPath string) (*Client, error) {
	c, err := rpc.Dial("unix", socketPath)
	if err != nil {
		return nil, xerrors.Errorf("diskctl: dialing %s: %w", socketPath, err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() error { return c.rpc.Close() }

func (c *Client) Ping() error {
	return c.rpc.Call("Disk.Ping", &PingArgs{}, &PingReply{})
}

func (c *Client) Stats() (volume.Statfs, error) {
	var reply StatsReply
	if err := c.rpc.Call("Disk.Stats", &StatsArgs{}, &reply); err != nil {
		return volume.Statfs{}, err
	}
	return reply.Stats, nil
}

func (c *Client) Crunch() (int, error) {
	var reply CrunchReply
	if err := c.rpc.Call("Disk.Crunch", &CrunchArgs{}, &reply); err != nil {
		return 0, err
	}
	return reply.BlocksFreed, nil
}
