package cli

import (
	"github.com/me/cotask/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run journal over HTTP",
		Long:  "Starts the status API on the journal. Live progress is only available from 'cotask run --serve'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			st, err := openJournal(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			srv := server.New(st, logger, server.WithVersion(version))
			return srv.ListenAndServe(ctx, cfg.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (or COTASK_ADDR env)")
	return cmd
}
