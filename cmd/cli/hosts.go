package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/scanning"
)

const (
	maxOSNameLength   = 24 // max OS name length before truncation
	maxServicesListed = 6  // services shown per host before "+N"
)

var (
	hostsWithPorts bool
	hostsService   string
)

// hostsCmd represents the hosts command.
var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List stored hosts",
	Long: `List every host in the store with its OS guess, reverse DNS name and
open services, in the order the hosts were stored.`,
	Example: `  cr4wler hosts
  cr4wler hosts --ports
  cr4wler hosts --service ssh`,
	RunE: runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)

	hostsCmd.Flags().BoolVar(&hostsWithPorts, "ports", false, "list one row per open port")
	hostsCmd.Flags().StringVar(&hostsService, "service", "", "only hosts exposing this service (e.g. ssh, https)")
}

func runHosts(cmd *cobra.Command, _ []string) error {
	return withDatabase(cmd.Context(), func(database *db.DB) error {
		hosts, err := db.NewHostRepository(database).ListAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("error querying hosts: %w", err)
		}

		hosts = filterByService(hosts, hostsService)
		if hostsWithPorts {
			displayPorts(cmd.OutOrStdout(), hosts)
		} else {
			displayHosts(cmd.OutOrStdout(), hosts)
		}
		return nil
	})
}

// filterByService keeps hosts with at least one port running service.
// An empty service keeps everything.
func filterByService(hosts []scanning.Host, service string) []scanning.Host {
	if service == "" {
		return hosts
	}
	service = strings.ToLower(service)

	filtered := make([]scanning.Host, 0, len(hosts))
	for i := range hosts {
		for _, p := range hosts[i].Ports {
			if strings.ToLower(p.Service) == service {
				filtered = append(filtered, hosts[i])
				break
			}
		}
	}
	return filtered
}

// displayHosts writes one row per host.
func displayHosts(out io.Writer, hosts []scanning.Host) {
	if len(hosts) == 0 {
		_, _ = fmt.Fprintln(out, "No hosts found.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("IP", "OS", "rDNS", "Country", "Ports", "Services", "Seen")
	for i := range hosts {
		h := &hosts[i]
		_ = table.Append([]string{
			h.IP,
			truncate(h.OSName, maxOSNameLength),
			h.RDNS,
			country(h),
			strconv.Itoa(len(h.Ports)),
			serviceSummary(h.Ports),
			h.Timestamp.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	_, _ = fmt.Fprintf(out, "\nTotal: %d hosts\n", len(hosts))
}

// displayPorts writes one row per stored port.
func displayPorts(out io.Writer, hosts []scanning.Host) {
	table := tablewriter.NewWriter(out)
	table.Header("IP", "Port", "Service", "Product", "Version", "HTTP Title")

	rows := 0
	for i := range hosts {
		for _, p := range hosts[i].Ports {
			_ = table.Append([]string{
				hosts[i].IP,
				strconv.Itoa(p.Port),
				p.Service,
				p.Product,
				p.Version,
				p.HTTPTitle,
			})
			rows++
		}
	}
	if rows == 0 {
		_, _ = fmt.Fprintln(out, "No open ports found.")
		return
	}
	_ = table.Render()
}

func country(h *scanning.Host) string {
	for _, key := range []string{"country", "country_code"} {
		if v, ok := h.Geolocation[key].(string); ok && v != "" {
			return v
		}
	}
	return "-"
}

// serviceSummary lists distinct service names in port order.
func serviceSummary(ports []scanning.Port) string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range ports {
		if p.Service == "" || p.Service == scanning.Unknown || seen[p.Service] {
			continue
		}
		seen[p.Service] = true
		names = append(names, p.Service)
	}
	if len(names) == 0 {
		return "-"
	}
	if len(names) > maxServicesListed {
		extra := len(names) - maxServicesListed
		names = append(names[:maxServicesListed], fmt.Sprintf("+%d", extra))
	}
	return strings.Join(names, ",")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

