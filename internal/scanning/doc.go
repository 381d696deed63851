// Package scanning holds cr4wler's canonical host records and the two scan
// phases that produce them.
//
// # Phases
//
// The broad phase sweeps an address range with masscan (MasscanScanner) and
// yields candidate addresses. The deep phase runs nmap against one candidate
// at a time (NmapScanner) with OS detection, service detection and the
// banner, http-title, ssl-cert and whois-ip scripts.
//
// # Parsing
//
// ParseBroadScan reads masscan list output. ParseDeepScan and
// ParseDeepScanRun turn nmap output into Host values. Absent attributes are
// never errors: service, version, product and OS fields fall back to
// Unknown, and banner, title, certificate and reverse DNS fall back to
// NotAvailable. A host without an address is skipped.
//
//	run := &nmap.Run{}
//	if err := nmap.Parse(xmlBytes, run); err != nil {
//		return err
//	}
//	hosts, err := scanning.ParseDeepScanRun(run)
//
// # Records
//
// Host and Port are the shape submitted to and returned by the API. Call
// Host.Normalize before persisting so every field carries a value and the
// timestamp is set and in UTC.
package scanning
