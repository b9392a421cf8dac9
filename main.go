package main

import "polls-backend/app"

func main() {
	app.Execute()
}
