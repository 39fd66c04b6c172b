package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	pb "seatraft/raftpb"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	serverAddr := flag.String("server", "localhost:9090", "raft node address")
	flag.Parse()

	log.Printf("📡 Connecting to node: %s", *serverAddr)

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("❌ Failed to connect: %v", err)
	}
	defer conn.Close()

	client := pb.NewRaftServiceClient(conn)
	log.Println("✅ Connected")
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case "SUBMIT":
			if len(parts) != 2 {
				fmt.Println("Usage: SUBMIT <json-operation>")
				continue
			}
			submit(client, parts[1])

		case "HELP":
			printHelp()

		case "QUIT", "EXIT":
			fmt.Println("👋 Disconnecting...")
			return

		default:
			fmt.Printf("❓ Unknown command: %s\n", cmd)
			fmt.Println("Type HELP for available commands")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("Error reading input: %v", err)
	}
}

func submit(client pb.RaftServiceClient, operation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	resp, err := client.SubmitOperation(ctx, &pb.SubmitOperationRequest{Operation: operation, SourceId: "client"})
	if err != nil {
		fmt.Printf("❌ RPC error: %v\n", err)
		return
	}

	if !resp.Success {
		fmt.Printf("❌ %s", resp.Error)
		if resp.LeaderId != "" {
			fmt.Printf(" (leader id: %s)", resp.LeaderId)
		}
		fmt.Println()
		return
	}

	fmt.Printf("✅ %s\n", resp.Result)
}

func printHelp() {
	help := `
📝 Available Commands:
  SUBMIT <json-operation>    Submit an operation, e.g.
                             SUBMIT {"type":"Reservation.Create","seat_id":1}
  HELP                       Show this help message
  QUIT / EXIT                Disconnect
`
	fmt.Println(help)
}
