package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/importance-shift/internal/oracle"
)

var (
	serveListen string
	serveDir    string
)

// serveOracleCmd exposes stored responses over the gRPC reasoning service so
// other runs can use the grpc backend against a fixed set of answers.
var serveOracleCmd = &cobra.Command{
	Use:   "serve-oracle",
	Short: "Serve stored oracle responses over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := serveDir
		if dir == "" {
			dir = cfg.Oracle.Dir
		}
		if dir == "" {
			return fmt.Errorf("--dir is required")
		}
		lis, err := net.Listen("tcp", serveListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveListen, err)
		}
		s := grpc.NewServer()
		oracle.RegisterReasoningServer(s, oracle.FileOracle{Dir: dir})

		go func() {
			<-cmd.Context().Done()
			s.GracefulStop()
		}()
		logger.Info("serving oracle", zap.String("addr", lis.Addr().String()), zap.String("dir", dir))
		return s.Serve(lis)
	},
}

func init() {
	serveOracleCmd.Flags().StringVar(&serveListen, "listen", "localhost:50051", "Listen address")
	serveOracleCmd.Flags().StringVar(&serveDir, "dir", "", "Directory of <reference>_<metric>.txt responses (default: oracle.dir)")
}
