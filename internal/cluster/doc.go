// Package cluster defines the JSON messages of the coordinator's HTTP control
// surface and the small HTTP helpers the CLI uses to call it.
//
// # Endpoints
//
//	GET  /health                         HealthResponse
//	GET  /api/v1/workers                 WorkersResponse
//	POST /api/v1/sort[?mode=local]       SortRequest  -> SortResponse
//	POST /api/v1/probe                   ProbeRequest -> ProbeResult per line
//	POST /api/v1/workers/evict-offline   EvictResponse
//	GET  /metrics                        Prometheus text format
//
// Errors are returned as ErrorResponse with a non-2xx status. The probe
// endpoint streams newline-delimited JSON, one ProbeResult per line, in the
// order the probes complete; use StreamJSON to consume it.
//
// # Usage Example
//
//	var workers cluster.WorkersResponse
//	if err := cluster.GetJSON(ctx, base+"/api/v1/workers", &workers); err != nil {
//	    return err
//	}
//
//	err := cluster.StreamJSON(ctx, base+"/api/v1/probe", cluster.ProbeRequest{},
//	    func(line []byte) error {
//	        var res cluster.ProbeResult
//	        if err := sonic.Unmarshal(line, &res); err != nil {
//	            return err
//	        }
//	        fmt.Println(res.Addr, res.Status)
//	        return nil
//	    })
package cluster
