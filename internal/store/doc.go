// Package store owns the race dataset on disk: the courses_index.json
// manifest plus lazily loaded, cached race documents. Documents may live
// next to the manifest or behind http(s) URLs; both normalize through
// dataprocessing before they are served. Content digests of the raw
// documents back the data health endpoint.
package store
