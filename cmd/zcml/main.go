// Command zcml serves and inspects applications configured with ZCML files.
package main

func main() {
	Execute()
}
