package banner

import (
	"fmt"

	"streamcart/pkg/config"
)

const banner = `
███████╗████████╗██████╗ ███████╗ █████╗ ███╗   ███╗ ██████╗ █████╗ ██████╗ ████████╗
██╔════╝╚══██╔══╝██╔══██╗██╔════╝██╔══██╗████╗ ████║██╔════╝██╔══██╗██╔══██╗╚══██╔══╝
███████╗   ██║   ██████╔╝█████╗  ███████║██╔████╔██║██║     ███████║██████╔╝   ██║
╚════██║   ██║   ██╔══██╗██╔══╝  ██╔══██║██║╚██╔╝██║██║     ██╔══██║██╔══██╗   ██║
███████║   ██║   ██║  ██║███████╗██║  ██║██║ ╚═╝ ██║╚██████╗██║  ██║██║  ██║   ██║
╚══════╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═╝     ╚═╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the startup banner using an EffectiveConfigResult
// which provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/comments - Ingest a live-stream comment (JSON: streamer, client, message)")
	fmt.Println("GET  /v1/comments/{id}/trace - Full pipeline trace for a comment")
	fmt.Println("GET  /v1/orders/{id}/trace - Trace an order back to its comment")
	fmt.Println("GET  /v1/audit?cursor=<id>&limit=<n> - Read the ingestion audit log")
	fmt.Println("GET  /v1/deadletters - List dead-lettered pipeline entries")
	fmt.Println("POST /v1/deadletters/{id}/replay - Re-enqueue a dead letter")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/comments' -d '{\"streamer\":\"alice\",\"client\":\"bob\",\"message\":\"I want to buy that jacket\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/deadletters'\n", addr)

	fmt.Println("\n== Checks =====================================================")
	if eff.Config != nil {
		g := eff.Config.Gateways
		printGateway("Intent", g.Intent.URL)
		printGateway("Vision", g.Vision.URL)
		printGateway("Order", g.Order.URL)
		printGateway("Notification", g.Notification.URL)
		fmt.Printf("- Workers: %d\n", eff.Config.Pipeline.Workers)
		if eff.Config.Retention.Enabled {
			fmt.Printf("- Retention: enabled (cron=%s)\n", eff.Config.Retention.Cron)
		} else {
			fmt.Println("- Retention: disabled (queue TTL enforced at pop only)")
		}
	}
	if eff.DBPath == "" {
		fmt.Println("- DB Path: not set (use --db or STREAMCART_DB_PATH)")
	}

	fmt.Println("\n== Logs: =================================================")
}

func printGateway(name, url string) {
	if url != "" {
		fmt.Printf("- %s gateway: %s\n", name, url)
	} else {
		fmt.Printf("- %s gateway: MISSING (pipeline will dead-letter at this stage)\n", name)
	}
}
