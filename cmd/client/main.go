package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"chorddht/internal/rpc"

	"github.com/peterh/liner"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// connect dials addr and returns an AdminClient talking the gob codec
// registered by internal/rpc, the same codec the node-to-node RPCs use.
func connect(addr string) (rpc.AdminClient, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return rpc.AdminClient{}, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return rpc.NewAdminClient(conn), conn, nil
}

func main() {
	addr := flag.String("addr", "localhost:4000", "Address of the Chord node's admin surface")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout (e.g., 5s)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	api, conn, err := connect(*addr)
	if err != nil {
		log.Fatalf("Failed to connect to node at %s: %v", *addr, err)
	}
	defer conn.Close()

	currentAddr := *addr
	fmt.Printf("chorddht interactive client. Connected to %s\n", currentAddr)
	fmt.Println("Available commands: put/get/delete/getstore/getrt/lookup/info/join/create/leave/use/exit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(fmt.Sprintf("chorddht[%s]> ", currentAddr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			break
		}
		line.AppendHistory(input)

		args := strings.Fields(strings.TrimSpace(input))
		if len(args) == 0 {
			continue
		}
		cmd := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)

		switch cmd {

		case "put":
			if len(args) < 3 {
				fmt.Println("Usage: put <key> <value>")
				cancel()
				continue
			}
			start := time.Now()
			_, err := api.Put(ctx, &rpc.PutRequest{Key: args[1], Value: args[2]})
			printResult("Put", time.Since(start), err)

		case "get":
			if len(args) < 2 {
				fmt.Println("Usage: get <key>")
				cancel()
				continue
			}
			start := time.Now()
			reply, err := api.Get(ctx, &rpc.GetByKeyRequest{Key: args[1]})
			if err != nil {
				printErr("Get", time.Since(start), err)
			} else {
				fmt.Printf("Get succeeded (key=%s, value=%s) | latency=%s\n", args[1], reply.Value, time.Since(start))
			}

		case "delete":
			if len(args) < 2 {
				fmt.Println("Usage: delete <key>")
				cancel()
				continue
			}
			start := time.Now()
			_, err := api.Delete(ctx, &rpc.DeleteByKeyRequest{Key: args[1]})
			printResult("Delete", time.Since(start), err)

		case "getstore":
			start := time.Now()
			reply, err := api.GetStore(ctx, &rpc.Empty{})
			if err != nil {
				printErr("GetStore", time.Since(start), err)
				cancel()
				continue
			}
			fmt.Printf("Stored resources (count=%d) | latency=%s\n", len(reply.Resources), time.Since(start))
			for _, r := range reply.Resources {
				fmt.Printf("  - key=%s | value=%s\n", r.RawKey, r.Value)
			}

		case "getrt":
			start := time.Now()
			reply, err := api.GetRoutingTable(ctx, &rpc.Empty{})
			if err != nil {
				printErr("GetRoutingTable", time.Since(start), err)
				cancel()
				continue
			}
			fmt.Println("Routing table:")
			if reply.Self != nil {
				fmt.Printf("  Self: %s (%s)\n", reply.Self.ID, reply.Self.Addr)
			}
			if reply.Predecessor != nil {
				fmt.Printf("  Predecessor: %s (%s)\n", reply.Predecessor.ID, reply.Predecessor.Addr)
			}
			fmt.Println("  Successors:")
			for i, s := range reply.Successors {
				if s == nil {
					continue
				}
				fmt.Printf("    [%d] %s (%s)\n", i, s.ID, s.Addr)
			}
			fmt.Println("  Fingers:")
			for i, f := range reply.Fingers {
				if f == nil {
					continue
				}
				fmt.Printf("    [%d] %s (%s)\n", i, f.ID, f.Addr)
			}
			fmt.Printf("Latency: %s\n", time.Since(start))

		case "lookup":
			if len(args) < 2 {
				fmt.Println("Usage: lookup <key>")
				cancel()
				continue
			}
			start := time.Now()
			reply, err := api.Lookup(ctx, &rpc.LookupRequest{Key: args[1]})
			if err != nil {
				printErr("Lookup", time.Since(start), err)
			} else {
				fmt.Printf("Lookup result: successor=%s (%s) | latency=%s\n",
					reply.Node.ID, reply.Node.Addr, time.Since(start))
			}

		case "info":
			start := time.Now()
			reply, err := api.Info(ctx, &rpc.Empty{})
			if err != nil {
				printErr("Info", time.Since(start), err)
				cancel()
				continue
			}
			fmt.Printf("Self: %s (%s)\n", reply.Self.ID, reply.Self.Addr)
			if reply.Predecessor != nil {
				fmt.Printf("Predecessor: %s (%s)\n", reply.Predecessor.ID, reply.Predecessor.Addr)
			} else {
				fmt.Println("Predecessor: <none>")
			}
			fmt.Printf("Successors: %d set\n", len(reply.Successors))
			fmt.Printf("Fingers set: %d\n", reply.FingersSet)
			fmt.Printf("Resources stored: %d\n", reply.ResourceCount)

		case "join":
			if len(args) < 2 {
				fmt.Println("Usage: join <bootstrap_addr>")
				cancel()
				continue
			}
			start := time.Now()
			_, err := api.Join(ctx, &rpc.JoinRequest{BootstrapAddr: args[1]})
			printResult("Join", time.Since(start), err)

		case "create":
			start := time.Now()
			_, err := api.Create(ctx, &rpc.CreateRequest{})
			printResult("Create", time.Since(start), err)

		case "leave":
			start := time.Now()
			_, err := api.Leave(ctx, &rpc.Empty{})
			printResult("Leave", time.Since(start), err)

		case "use":
			if len(args) < 2 {
				fmt.Println("Usage: use <addr>")
				cancel()
				continue
			}
			newAddr := args[1]
			newClient, newConn, err := connect(newAddr)
			if err != nil {
				fmt.Printf("Failed to connect to %s: %v\n", newAddr, err)
				cancel()
				continue
			}
			conn.Close()
			api = newClient
			conn = newConn
			currentAddr = newAddr
			fmt.Printf("Switched connection to %s\n", currentAddr)

		case "exit", "quit":
			fmt.Println("Bye!")
			cancel()
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		cancel()
	}
}

func printResult(op string, delay time.Duration, err error) {
	if err != nil {
		printErr(op, delay, err)
		return
	}
	fmt.Printf("%s succeeded | latency=%s\n", op, delay)
}

func printErr(op string, delay time.Duration, err error) {
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		fmt.Printf("%s: not found | latency=%s\n", op, delay)
		return
	}
	fmt.Printf("%s failed: %v | latency=%s\n", op, err, delay)
}
