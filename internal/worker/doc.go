// Package worker implements the remote half of sortmesh: a process that dials
// the coordinator once, then sorts every chunk it is sent on that connection
// until the coordinator hangs up.
//
// The Loop is a two-state machine:
//
//	Connected ──read chunk──▶ sort ──write chunk──┐
//	    ▲                                         │
//	    └─────────────────────────────────────────┘
//	    │
//	    └──end of stream / read error──▶ Closed
//
// The loop is strictly sequential. Because it writes each response before it
// reads the next request, the coordinator can never be more than one request
// ahead on a connection.
package worker
