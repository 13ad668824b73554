// Package display allocates virtual X displays from a bounded pool of
// display numbers and runs one framebuffer server (Xvfb) per leased number.
//
// A number is reserved under the pool lock, the server is started outside
// it, and the lease becomes usable only once the server's unix socket
// (/tmp/.X11-unix/X<N>) exists. Numbers held by X servers this process did
// not start are detected through their lock and socket files and skipped.
//
// A number returns to the pool only after its server is confirmed dead. A
// server that survives SIGKILL leaves its number quarantined for the life
// of the allocator.
package display
