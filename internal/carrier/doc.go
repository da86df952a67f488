// Package carrier holds one adapter per parcel carrier. Each adapter wraps
// the provider's own search contract (circle, bounding box, address, page
// scrape or nationwide dump) and maps the response strictly onto
// model.Location. Adapters are collected in a Registry in output order.
package carrier
