// Command relxfer-send connects to a relxfer-recv listener, hands it a
// file, and drives the transfer to completion over the reliable
// file-transfer protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/qxcheng/relxfer/config"
	"github.com/qxcheng/relxfer/internal/chunker"
	"github.com/qxcheng/relxfer/internal/handshake"
	"github.com/qxcheng/relxfer/sender"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9900", "receiver address")
	file := flag.String("file", "", "path of the file to send")
	configPath := flag.String("config", "", "optional YAML config overlay")
	jsonLogs := flag.Bool("json-logs", false, "emit structured JSON logs instead of development console output")
	flag.Parse()

	if *file == "" {
		log.Fatal("Usage: relxfer-send -file <path> [-addr host:port]")
	}

	logger, err := newLogger(*jsonLogs)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Fatal("dial receiver", zap.Error(err))
	}
	defer conn.Close()

	if err := handshake.SenderGreet(conn, *file); err != nil {
		logger.Fatal("handshake", zap.Error(err))
	}

	src, err := chunker.NewFileSource(*file, cfg.ChunkSize)
	if err != nil {
		logger.Fatal("read file", zap.Error(err))
	}

	eng := sender.New(cfg, sender.WithLogger(logger))
	if err := eng.Run(context.Background(), conn, src); err != nil {
		logger.Fatal("transfer failed", zap.Error(err))
	}

	printSenderStats(eng.Stats())
}

func newLogger(jsonLogs bool) (*zap.Logger, error) {
	if jsonLogs {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func printSenderStats(s sender.Stats) {
	fmt.Fprintf(os.Stdout, "segments sent:      %d\n", s.SegmentsSent)
	fmt.Fprintf(os.Stdout, "retransmissions:    %d\n", s.Retransmissions)
	fmt.Fprintf(os.Stdout, "fast retransmits:   %d\n", s.FastRetransmits)
	fmt.Fprintf(os.Stdout, "timeouts:           %d\n", s.Timeouts)
	fmt.Fprintf(os.Stdout, "persist probes:     %d\n", s.ProbesSent)
	fmt.Fprintf(os.Stdout, "duplicate acks seen: %d\n", s.DuplicateAcks)
}
