package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/gerbershot/internal/server"
	"github.com/matzehuels/gerbershot/pkg/config"
	"github.com/matzehuels/gerbershot/pkg/publish"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		listen    string
		maxUpload int64
		noCache   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		Long: `Run the HTTP upload server.

POST a multipart form with a single "gerberArchive" file to /upload. The
response carries the URL of the rendered image, which is either served from
/img/ or uploaded to S3 when a bucket is configured.`,
		Example: `  gerbershot serve
  PORT=8080 IMG_DIR=/srv/img gerbershot serve
  BUCKET=boards S3_URL=https://s3.example.com gerbershot serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			return c.runServe(cmd.Context(), cfg, noCache, maxUpload)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (default from config or PORT)")
	cmd.Flags().Int64Var(&maxUpload, "max-upload", server.DefaultMaxUploadBytes, "largest accepted upload in bytes")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the artifact cache")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, cfg config.Config, noCache bool, maxUpload int64) error {
	runner, err := c.newRunner(ctx, cfg, noCache, nil)
	if err != nil {
		return err
	}
	defer runner.Close()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pub, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Runner:         runner,
		Render:         cfg.Render(),
		Publisher:      pub,
		Store:          st,
		Logger:         c.Logger,
		MaxUploadBytes: maxUpload,
	})
	if err != nil {
		return err
	}

	printInfo("Listening on %s", StyleLink.Render(listenURL(cfg.Listen)))
	printDetail("Images: %s", cfg.OutputRoot)
	return srv.ListenAndServe(ctx, cfg.Listen)
}

// newPublisher returns the S3 publisher when configured, otherwise URLs under
// the server's own /img/ route.
func newPublisher(ctx context.Context, cfg config.Config) (publish.Publisher, error) {
	if cfg.Publish.Backend == config.PublishS3 {
		return publish.NewS3(ctx, publish.S3Config{
			Bucket:          cfg.Publish.Bucket,
			Endpoint:        cfg.Publish.Endpoint,
			Region:          cfg.Publish.Region,
			AccessKeyID:     cfg.Publish.AccessKeyID,
			SecretAccessKey: cfg.Publish.SecretAccessKey,
			Root:            cfg.OutputRoot,
		})
	}
	return &publish.Local{BaseURL: cfg.PublicURL, Root: cfg.OutputRoot}, nil
}

// listenURL turns a listen address into a clickable URL.
func listenURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
