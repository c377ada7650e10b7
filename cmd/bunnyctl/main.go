// Command bunnyctl manages bunny.net Edge Storage zones and the CDN cache
// from the command line.
package main

func main() {
	Execute()
}
