// Package http provides request and response helpers for the inspector.
//
// # Request
//
//	req := gohttp.NewRequest(r)
//	name := req.Query("name")
//	if req.Has("resolve") { ... }    // present even when empty
//	id := req.RouteParam("id")
//	if req.WantsYAML() { ... }   // ?format=yaml or Accept: application/yaml
//
// # Response
//
//	res := gohttp.NewResponse(w)
//
//	res.JSON(200, data)            // raw JSON with status
//	res.YAML(200, data)            // raw YAML with status
//	res.Negotiate(req, 200, data)  // YAML when asked for, JSON otherwise
//	res.Success(data)              // 200 {"data": ...}
//
//	res.Error(400, "bad input")    // {"message": "bad input"}
//	res.NotFound()                 // 404 {"message": "Not found."}
//	res.ServerError()              // 500 {"message": "Server Error."}
package http
