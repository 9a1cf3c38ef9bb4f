package main

import "github.com/google/uuid"

type demoBook struct {
	Title  string
	Author string
	Genre  string
	Copies int
}

var demoCatalog = []demoBook{
	{"The Great Gatsby", "F. Scott Fitzgerald", "Classic Fiction", 5},
	{"To Kill a Mockingbird", "Harper Lee", "Classic Fiction", 4},
	{"1984", "George Orwell", "Classic Fiction", 6},
	{"Pride and Prejudice", "Jane Austen", "Classic Fiction", 3},
	{"Dune", "Frank Herbert", "Science Fiction", 4},
	{"The Martian", "Andy Weir", "Science Fiction", 5},
	{"Neuromancer", "William Gibson", "Science Fiction", 3},
	{"Foundation", "Isaac Asimov", "Science Fiction", 4},
	{"The Hobbit", "J.R.R. Tolkien", "Fantasy", 6},
	{"Harry Potter and the Sorcerer's Stone", "J.K. Rowling", "Fantasy", 8},
	{"The Name of the Wind", "Patrick Rothfuss", "Fantasy", 4},
	{"The Girl with the Dragon Tattoo", "Stieg Larsson", "Mystery", 5},
	{"Gone Girl", "Gillian Flynn", "Thriller", 4},
	{"The Da Vinci Code", "Dan Brown", "Mystery", 5},
	{"Sapiens: A Brief History of Humankind", "Yuval Noah Harari", "Non-Fiction", 6},
	{"Educated", "Tara Westover", "Biography", 4},
	{"Atomic Habits", "James Clear", "Self-Help", 7},
	{"The Kite Runner", "Khaled Hosseini", "Contemporary Fiction", 4},
	{"The Alchemist", "Paulo Coelho", "Contemporary Fiction", 5},
	{"Life of Pi", "Yann Martel", "Contemporary Fiction", 3},
}

// bookID is stable across runs so reseeding never duplicates a title.
func bookID(b demoBook) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("libris:book:"+b.Title+"|"+b.Author))
}
