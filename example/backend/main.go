// A toy backend node for local development. It serves the broker wire
// protocol with synthetic per-segment counts and can announce itself
// in etcd so a broker in etcd routing mode discovers it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/skatterlabs/skatter/internal/routing"
	"github.com/skatterlabs/skatter/pkg/wire"
)

var (
	addr          = flag.String("addr", "127.0.0.1:9301", "Address to listen on")
	tablesSpec    = flag.String("tables", "hits:hits_0,hits_1", "Served tables, e.g. hits:hits_0,hits_1;visits:visits_0")
	docsPerSeg    = flag.Int64("docs", 100, "Synthetic document count per segment")
	etcdEndpoints = flag.String("etcd", "", "Comma separated etcd endpoints, empty to skip announcing")
	etcdPrefix    = flag.String("etcd-prefix", "/skatter/backends/", "Announcement key prefix")
)

const announceTTL = 10 // seconds

func main() {
	flag.Parse()

	logger := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	tables, err := parseTables(*tablesSpec)
	if err != nil {
		logger.Fatal().Err(err).Msg("Bad -tables value")
	}

	if *etcdEndpoints != "" {
		stopAnnounce, err := announce(tables, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to announce in etcd")
		}
		defer stopAnnounce()
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to listen on %s", *addr)
	}
	logger.Info().Msgf("Backend is serving %d tables on %s", len(tables), *addr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, logger)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt

	_ = ln.Close()
}

func serveConn(conn net.Conn, logger zerolog.Logger) {
	defer func() {
		_ = conn.Close()
	}()

	for {
		var req wire.Request
		if err := wire.ReadFrame(conn, &req); err != nil {
			return
		}

		resp, err := answer(&req)
		if err != nil {
			logger.Err(err).Msg("Failed to build response")
			resp = &wire.Response{ID: req.ID, Error: err.Error()}
		}

		if err = wire.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func answer(req *wire.Request) (*wire.Response, error) {
	totalDocs := *docsPerSeg * int64(len(req.Segments))

	var payload []byte
	var err error
	switch req.Format {
	case wire.FormatNative:
		payload, err = msgpack.Marshal(struct {
			Columns []string        `msgpack:"columns"`
			Rows    [][]interface{} `msgpack:"rows"`
		}{
			Columns: []string{"segment", "docs"},
			Rows:    nativeRows(req.Segments),
		})
	default:
		payload, err = json.Marshal(map[string]interface{}{
			"totalDocs": totalDocs,
			"aggregations": map[string]float64{
				"count_star": float64(totalDocs),
			},
		})
	}
	if err != nil {
		return nil, err
	}

	return &wire.Response{
		ID:      req.ID,
		Format:  req.Format,
		Payload: payload,
	}, nil
}

func nativeRows(segments []string) [][]interface{} {
	rows := make([][]interface{}, 0, len(segments))
	for _, segment := range segments {
		rows = append(rows, []interface{}{segment, *docsPerSeg})
	}

	return rows
}

// announce publishes this node's tables under the etcd prefix on a
// keepalive lease, so the key disappears when the process dies.
func announce(tables map[string][]string, logger zerolog.Logger) (func(), error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(*etcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(routing.Announcement{
		Addr:   *addr,
		Tables: tables,
	})
	if err != nil {
		_ = cli.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lease, err := cli.Grant(ctx, announceTTL)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	if _, err = cli.Put(ctx, *etcdPrefix+*addr, string(data), clientv3.WithLease(lease.ID)); err != nil {
		_ = cli.Close()
		return nil, err
	}

	keepAlive, err := cli.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	go func() {
		for range keepAlive {
		}
	}()

	logger.Info().Msgf("Announced %s in etcd", *addr)

	return func() {
		_ = cli.Close()
	}, nil
}

func parseTables(spec string) (map[string][]string, error) {
	tables := make(map[string][]string)
	for _, part := range strings.Split(spec, ";") {
		if part == "" {
			continue
		}
		name, segments, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errBadTablesSpec
		}
		tables[name] = strings.Split(segments, ",")
	}
	if len(tables) == 0 {
		return nil, errBadTablesSpec
	}

	return tables, nil
}

var errBadTablesSpec = errors.New("tables spec must look like name:segment[,segment];...")
