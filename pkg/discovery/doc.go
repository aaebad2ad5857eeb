// Package discovery advertises and finds chanmux servers with mDNS/DNS-SD.
//
// Servers register the service type _chanmux._tcp. The instance name is the
// server name chosen by the operator. TXT records:
//
//	v=1                 protocol version
//	ds=loc,sim,sys      data sources served, comma separated
//	ws=/ws              WebSocket path, if WebSocket is offered
//
// A remote data source configured with an mdns:// address resolves it with
// Resolve before every connection attempt, so a server that moved to a new
// address is found again on reconnect.
package discovery
